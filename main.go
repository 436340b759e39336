package main

import "llmtrace/cmd"

func main() {
	cmd.Execute()
}
