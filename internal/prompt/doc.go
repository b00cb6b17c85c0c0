// Package prompt provides the human-interaction backends for name
// disambiguation: a line-oriented console prompter and a terminal form
// prompter built on charmbracelet/huh. New picks one for a session.
package prompt
