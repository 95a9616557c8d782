package main

import "github.com/fortunamind/persistgate/cmd/persistgate/cmd"

func main() {
	cmd.Execute()
}
