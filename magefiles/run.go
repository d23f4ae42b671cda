//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Renders the graph of assets/engine.toml on the headless device.
func (Run) Headless() error {
	mg.Deps(Test.Vet)
	fmt.Println("Run headless engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "assets/engine.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Same as Headless with a custom configuration file.
func (Run) Config(path string) error {
	_, err := executeCmd("go", withArgs("run", ".", "-config", path), withStream())
	return err
}
