package main

import "github.com/CosmoTheDev/klara-agent/cmd"

func main() {
	cmd.Execute()
}
