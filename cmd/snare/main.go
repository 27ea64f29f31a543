// Package main implements the snare CLI.
package main

func main() {
	Execute()
}
