package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// Example_lifecycle walks a package with one dependency through a failed
// requirement, a successful enable and a cascading disable.
func Example_lifecycle() {
	mgr := engine.NewManager(engine.ManagerOptions{})

	_ = mgr.RegisterPackage(engine.Package{ID: "storage", Version: "1.0.0"})
	_ = mgr.RegisterPackage(engine.Package{ID: "mongodb", Version: "7.0.2", Dependencies: []string{"storage"}})

	diskReady := false
	_ = mgr.RegisterCheck("mongodb", engine.PhaseInstall, engine.SeverityError, "disk-space",
		func(context.Context) error {
			if !diskReady {
				return errors.New("insufficient disk space")
			}
			return nil
		})

	ctx := context.Background()

	_, err := mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
	fmt.Println("code:", engine.CodeOf(err))
	for _, f := range engine.FailedChecks(err) {
		fmt.Printf("failed: %s/%s: %s\n", f.PackageID, f.Name, f.Message)
	}

	diskReady = true
	committed, _ := mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
	for _, step := range committed.Plan.Steps {
		fmt.Printf("%s %s: %s -> %s\n", step.Operation, step.PackageID, step.From, step.To)
	}

	committed, _ = mgr.RequestTransition(ctx, "storage", engine.StateDisabled)
	for _, step := range committed.Plan.Steps {
		fmt.Printf("%s %s: %s -> %s\n", step.Operation, step.PackageID, step.From, step.To)
	}

	// Output:
	// code: REQUIREMENT_FAILED
	// failed: mongodb/disk-space: insufficient disk space
	// enable storage: uninstalled -> enabled
	// enable mongodb: uninstalled -> enabled
	// disable mongodb: enabled -> disabled
	// disable storage: enabled -> disabled
}

// ExampleResolver_Resolve shows dependency ordering over a registry snapshot.
func ExampleResolver_Resolve() {
	reg := engine.NewRegistry()
	_ = reg.RegisterPackage(engine.Package{ID: "base"})
	_ = reg.RegisterPackage(engine.Package{ID: "db", Dependencies: []string{"base"}})
	_ = reg.RegisterPackage(engine.Package{ID: "api", Dependencies: []string{"db", "base"}})

	pkgs, _ := reg.Snapshot()
	order, _ := engine.NewResolver().Resolve("api", pkgs)
	fmt.Println(order)

	// Output:
	// [base db api]
}
