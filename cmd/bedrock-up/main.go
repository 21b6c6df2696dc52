package main

import "github.com/oshokin/bedrock-up/cmd/bedrock-up/cmd"

func main() {
	cmd.Execute()
}
