package main

import "github.com/iliyamo/cinema-seat-lock/internal/cli"

func main() {
	cli.Execute()
}
