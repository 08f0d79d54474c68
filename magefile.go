//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	BINARY_NAME  = "room-coordinator"
	BINARY_DIR   = "bin"
	MAIN_PACKAGE = "./cmd/room-coordinator"
	IMAGE_NAME   = "room-coordinator"
)

var Default = Build

// Build compiles the coordinator into bin/.
func Build() error {
	if err := os.MkdirAll(BINARY_DIR, 0o755); err != nil {
		return err
	}
	fmt.Printf("[Go] Build %s\n", BINARY_NAME)
	return sh.RunV("go", "build", "-o", path.Join(BINARY_DIR, BINARY_NAME), MAIN_PACKAGE)
}

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Test runs every package test with the race detector.
func Test() error {
	mg.Deps(Vet)
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Serve runs a single dev instance with query-string identities allowed.
func Serve() error {
	mg.Deps(Build)
	return sh.RunWithV(map[string]string{
		"DEV_AUTH":  "true",
		"LOG_LEVEL": "debug",
	}, path.Join(BINARY_DIR, BINARY_NAME), "serve")
}

// Cluster runs two instances against a local Redis on ports 8081 and 8082.
func Cluster(redisURL string) error {
	mg.Deps(Build)

	errs := make(chan error, 2)
	for i, port := range []string{"8081", "8082"} {
		env := map[string]string{
			"DEV_AUTH":      "true",
			"HTTP_PORT":     port,
			"INSTANCE_ID":   fmt.Sprintf("node-%d", i+1),
			"REDIS_URL":     redisURL,
			"BROKER_DRIVER": "redis",
		}
		go func() {
			errs <- sh.RunWithV(env, path.Join(BINARY_DIR, BINARY_NAME), "serve")
		}()
	}
	return <-errs
}

// Image builds the container image.
func Image() error {
	fmt.Printf("[Docker] Build image %s\n", IMAGE_NAME)
	return sh.RunV("docker", "build", "--tag", fmt.Sprintf("%s:latest", IMAGE_NAME), ".")
}
