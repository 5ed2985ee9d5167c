package main

import "github.com/panyam/authgate/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
