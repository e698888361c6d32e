package main

import "github.com/hoppxi/umbra/internal/cmd"

func main() {
	cmd.Execute()
}
