package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CredentialStore keeps the bearer token in a private JSON file.
type CredentialStore struct {
	Path string
}

type credentialFile struct {
	Token string `json:"token"`
}

func (s CredentialStore) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("credential: read: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("credential: decode %s: %w", s.Path, err)
	}
	return f.Token, nil
}

func (s CredentialStore) Save(_ context.Context, token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("credential: mkdir: %w", err)
	}
	data, err := json.Marshal(credentialFile{Token: token})
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credential: write: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("credential: replace: %w", err)
	}
	return nil
}

func (s CredentialStore) Delete(context.Context) error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: remove: %w", err)
	}
	return nil
}
