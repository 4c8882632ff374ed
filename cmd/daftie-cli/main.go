package main

import (
	"daftie-backend/cmd/daftie-cli/cmd"
)

func main() {
	cmd.Execute()
}
