package upgrade

import (
	"context"
	"os"
	"testing"

	"flock/pkg/models"
	"flock/pkg/store"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "flock-upgrade-test-")
	if err != nil {
		panic(err)
	}
	if err := store.Open(dir); err != nil {
		panic(err)
	}
	code := m.Run()
	store.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func TestNormalizeRoles(t *testing.T) {
	g := models.Group{Roles: map[string]models.Role{
		"Owner":  {AdminOrder: 0, AllowSending: true},
		"Normal": {AdminOrder: 3, AllowSending: true},
	}}
	if !normalizeRoles(&g) {
		t.Fatalf("crippled owner role not changed")
	}
	if g.Roles["Owner"] != models.AllAllowed(0) {
		t.Fatalf("owner role = %+v", g.Roles["Owner"])
	}
	if g.Roles["Normal"].AdminOrder != 3 {
		t.Fatalf("junior role touched: %+v", g.Roles["Normal"])
	}

	// a second pass is a no-op
	if normalizeRoles(&g) {
		t.Fatalf("normalization not idempotent")
	}

	// the most senior role wins regardless of its name
	g = models.Group{Roles: map[string]models.Role{
		"Boss":   {AdminOrder: 1},
		"Helper": {AdminOrder: 2},
	}}
	if !normalizeRoles(&g) {
		t.Fatalf("senior role not forced")
	}
	if g.Roles["Boss"] != models.AllAllowed(0) {
		t.Fatalf("senior role = %+v", g.Roles["Boss"])
	}

	if normalizeRoles(&models.Group{}) {
		t.Fatalf("roleless group changed")
	}
}

func TestRunMigratesOnce(t *testing.T) {
	if err := store.SaveGroup("upg1", models.Group{
		Name: "old",
		Roles: map[string]models.Role{
			"Owner":  {AdminOrder: 0},
			"Normal": {AdminOrder: 3, AllowSending: true},
		},
	}); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	ran, err := Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatalf("fresh store did not migrate")
	}

	g, ok, err := store.GetGroup("upg1")
	if err != nil || !ok {
		t.Fatalf("read group: %v %v", ok, err)
	}
	if g.Roles["Owner"] != models.AllAllowed(0) {
		t.Fatalf("owner role = %+v", g.Roles["Owner"])
	}

	v, err := store.GetFormatVersion()
	if err != nil || v != FormatVersion {
		t.Fatalf("format version = %q err %v", v, err)
	}

	// a second run sees the current version and does nothing
	ran, err = Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ran {
		t.Fatalf("migration reran on a current store")
	}
}
