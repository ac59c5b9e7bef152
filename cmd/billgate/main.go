// Package main is the entry point for billgate.
package main

func main() {
	Execute()
}
