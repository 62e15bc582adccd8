package main

import "github.com/multios-dev/syscore/cmd"

func main() {
	cmd.Execute()
}
