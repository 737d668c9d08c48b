package main

import "github.com/vietddude/catalog-etl/internal/cli"

func main() {
	cli.Execute()
}
