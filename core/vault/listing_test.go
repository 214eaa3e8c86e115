package vault

import (
	"context"
	"testing"
)

func findGroup(groups []Group, name string) *Group {
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i]
		}
	}
	return nil
}

func findEntry(group *Group, path string) *Entry {
	if group == nil {
		return nil
	}
	for i := range group.Files {
		if group.Files[i].Path == path {
			return &group.Files[i]
		}
	}
	return nil
}

func TestListing_GroupsByPartNumberAndExtension(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustUpload(t, service, "parts/1234567-bracket.mcam", []byte("a"))
	mustUpload(t, service, "parts/1234567-rev2.mcam", []byte("b"))
	mustUpload(t, service, "parts/7654321.mcam", []byte("c"))
	mustUpload(t, service, "docs/setup.vnc", []byte("d"))
	mustUpload(t, service, "README", []byte("e"))

	groups, err := service.Listing(ctx)
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}

	bracket := findGroup(groups, "12-34567")
	if bracket == nil || len(bracket.Files) != 2 {
		t.Errorf("group 12-34567 = %+v, want both 1234567 parts", bracket)
	}
	if findGroup(groups, "76-54321") == nil {
		t.Error("group 76-54321 missing")
	}
	if g := findGroup(groups, "VNC Files"); g == nil || len(g.Files) != 1 {
		t.Errorf("VNC Files group = %+v", g)
	}
	if g := findGroup(groups, "Misc"); g == nil || len(g.Files) != 1 {
		t.Errorf("Misc group = %+v", g)
	}
}

func TestListing_AnnotatesRevisionAndLock(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustUpload(t, service, "part.mcam", []byte("v1"))
	if _, err := service.Checkout(ctx, "part.mcam", "alice"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	groups, err := service.Listing(ctx)
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}

	entry := findEntry(findGroup(groups, "MCAM Files"), "part.mcam")
	if entry == nil {
		t.Fatal("part.mcam missing from listing")
	}
	if entry.Revision != "1.0" || entry.Description != "test part" {
		t.Errorf("entry = %+v, want sidecar metadata", entry)
	}
	if entry.LockedBy != "alice" || entry.LockedAt == nil {
		t.Errorf("entry = %+v, want lock annotation", entry)
	}
	if entry.Size != 2 {
		t.Errorf("entry.Size = %d, want 2", entry.Size)
	}
}

func TestListing_LinksCarryMasterState(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustUpload(t, service, "master.mcam", []byte("v1"))
	if err := service.CreateLink(ctx, "alias.mcam", "master.mcam", "admin"); err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if _, err := service.Checkout(ctx, "alias.mcam", "alice"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	groups, err := service.Listing(ctx)
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}

	alias := findEntry(findGroup(groups, "MCAM Files"), "alias.mcam")
	if alias == nil {
		t.Fatal("alias.mcam missing from listing")
	}
	if !alias.IsLink || alias.Master != "master.mcam" {
		t.Errorf("alias = %+v, want link marker and master", alias)
	}
	if alias.Revision != "1.0" || alias.LockedBy != "alice" {
		t.Errorf("alias = %+v, want master's revision and lock", alias)
	}
}

func TestListing_ExcludeGlobs(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustUpload(t, service, "part.mcam", []byte("v1"))
	mustUpload(t, service, "scratch/tmp.mcam", []byte("x"))

	filtered, err := New(Options{
		Repo:         service.repo,
		Meta:         service.meta,
		Locks:        service.locks,
		Logger:       service.logger,
		ExcludeGlobs: []string{"scratch/**"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	groups, err := filtered.Listing(ctx)
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}

	group := findGroup(groups, "MCAM Files")
	if group == nil || len(group.Files) != 1 || group.Files[0].Path != "part.mcam" {
		t.Errorf("MCAM Files = %+v, want scratch/ filtered out", group)
	}
}

func TestNew_RejectsBadExcludeGlob(t *testing.T) {
	service := newTestService(t)

	_, err := New(Options{
		Repo:         service.repo,
		Meta:         service.meta,
		Locks:        service.locks,
		ExcludeGlobs: []string{"[unclosed"},
	})
	if err == nil {
		t.Error("New() accepted a malformed exclude glob")
	}
}
