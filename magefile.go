//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/sh"
)

// Build compiles the hqtranslate binary.
func Build() error {
	fmt.Println("Building hqtranslate...")
	return sh.RunV("go", "build", "-o", "hqtranslate", "./cmd/hqtranslate")
}

// Test runs the full test suite.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Vet runs static analysis.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Install builds and installs hqtranslate into GOPATH/bin.
func Install() error {
	fmt.Println("Installing hqtranslate...")
	return sh.RunV("go", "install", "./cmd/hqtranslate")
}

// Clean removes build artifacts.
func Clean() error {
	return sh.Rm("hqtranslate")
}
