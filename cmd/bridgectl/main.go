package main

import "github.com/nfrund/topicbridge/cmd/bridgectl/cmd"

func main() {
	cmd.Execute()
}
