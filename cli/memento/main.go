package main

import (
	"os"

	mementocmder "github.com/mementolabs/memento/cmd/memento"
)

func main() {
	cmd := mementocmder.NewMementoCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
