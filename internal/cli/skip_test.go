package cli

import (
	"context"
	"testing"

	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/spotify/client"
)

type fakeSkipper struct {
	devices []client.Device
	calls   []string
}

func (f *fakeSkipper) GetDevices(context.Context) ([]client.Device, error) {
	return f.devices, nil
}

func (f *fakeSkipper) Next(_ context.Context, id string) error {
	f.calls = append(f.calls, "next:"+id)
	return nil
}

func (f *fakeSkipper) Previous(_ context.Context, id string) error {
	f.calls = append(f.calls, "previous:"+id)
	return nil
}

func newFakeSkipper() *fakeSkipper {
	return &fakeSkipper{devices: []client.Device{
		{ID: "d1", Name: "Desk"},
		{ID: "d2", Name: "Kitchen Speaker", IsActive: true},
		{ID: "d3", Name: "Car", IsRestricted: true},
	}}
}

func TestSkipActiveDevice(t *testing.T) {
	f := newFakeSkipper()

	dev, err := skip(context.Background(), f, "", true)
	if err != nil {
		t.Fatalf("skip() error = %v", err)
	}
	if dev.ID != "d2" {
		t.Errorf("device = %q, want d2", dev.ID)
	}
	if len(f.calls) != 1 || f.calls[0] != "next:d2" {
		t.Errorf("calls = %v", f.calls)
	}
}

func TestSkipNamedDevice(t *testing.T) {
	f := newFakeSkipper()

	if _, err := skip(context.Background(), f, "desk", false); err != nil {
		t.Fatalf("skip() error = %v", err)
	}
	if len(f.calls) != 1 || f.calls[0] != "previous:d1" {
		t.Errorf("calls = %v", f.calls)
	}
}

func TestSkipNoDevice(t *testing.T) {
	f := &fakeSkipper{devices: []client.Device{{ID: "d1", Name: "Desk"}}}

	_, err := skip(context.Background(), f, "", true)
	if tandemerrors.KindOf(err) != tandemerrors.KindNotFound {
		t.Fatalf("skip() error = %v, want not found", err)
	}
	_, err = skip(context.Background(), f, "Attic", true)
	if tandemerrors.KindOf(err) != tandemerrors.KindNotFound {
		t.Fatalf("skip(Attic) error = %v, want not found", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("calls = %v, want none", f.calls)
	}
}

func TestSkipRestrictedDevice(t *testing.T) {
	f := newFakeSkipper()

	if _, err := skip(context.Background(), f, "car", true); err == nil {
		t.Fatal("skip() on a restricted device succeeded")
	}
	if len(f.calls) != 0 {
		t.Errorf("calls = %v, want none", f.calls)
	}
}
