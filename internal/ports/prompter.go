package ports

// Prompter asks the person at the terminal for a secret.
type Prompter interface {
	// Password reads a secret without echoing it.
	Password(title, description string) (string, error)
}
