package saveload

import (
	"os"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LocalAPI is the on-disk half of a save slot, substitutable in tests
// the same way util.HTTPClient substitutes the cloud transport.
type LocalAPI interface {
	Load(absolutePath string) ([]byte, error)
	Save(absolutePath string, blob []byte) error
	Delete(absolutePath string) error
}

// fileLocalAPI is the production LocalAPI, backed directly by the OS
// filesystem.
type fileLocalAPI struct{}

// DefaultLocalAPI is the LocalAPI used outside of tests.
var DefaultLocalAPI LocalAPI = fileLocalAPI{}

func (fileLocalAPI) Load(absolutePath string) ([]byte, error) {
	b, err := os.ReadFile(absolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "saveload: %s", err)
		}
		return nil, status.Errorf(codes.Unavailable, "saveload: failed to read %q: %s", absolutePath, err)
	}
	return b, nil
}

// Save writes blob to absolutePath via a write-then-rename, so a crash
// mid-write never corrupts the previous checkpoint.
func (fileLocalAPI) Save(absolutePath string, blob []byte) error {
	tmp := absolutePath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return status.Errorf(codes.FailedPrecondition, "saveload: failed to write %q: %s", tmp, err)
	}
	if err := os.Rename(tmp, absolutePath); err != nil {
		return status.Errorf(codes.FailedPrecondition, "saveload: failed to rename %q to %q: %s", tmp, absolutePath, err)
	}
	return nil
}

func (fileLocalAPI) Delete(absolutePath string) error {
	if err := os.Remove(absolutePath); err != nil && !os.IsNotExist(err) {
		return status.Errorf(codes.FailedPrecondition, "saveload: failed to delete %q: %s", absolutePath, err)
	}
	return nil
}
