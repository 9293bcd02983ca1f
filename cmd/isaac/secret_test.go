// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustdental/isaac/internal/secrets"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// stubSecretStore is an in-memory secrets.Store for command tests.
type stubSecretStore struct {
	data map[string]string
}

func newStubSecretStore() *stubSecretStore {
	return &stubSecretStore{data: map[string]string{}}
}

func (s *stubSecretStore) Store(service, key, value string) error {
	s.data[service+"/"+key] = value
	return nil
}

func (s *stubSecretStore) Retrieve(service, key string) (string, error) {
	v, ok := s.data[service+"/"+key]
	if !ok {
		return "", isaacerr.Errorf(isaacerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return v, nil
}

func (s *stubSecretStore) Delete(service, key string) error {
	if _, ok := s.data[service+"/"+key]; !ok {
		return isaacerr.Errorf(isaacerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	delete(s.data, service+"/"+key)
	return nil
}

func (s *stubSecretStore) List(service string) ([]string, error) {
	var keys []string
	prefix := service + "/"
	for k := range s.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys, nil
}

func withStubStore(t *testing.T) *stubSecretStore {
	t.Helper()
	stub := newStubSecretStore()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return stub }
	t.Cleanup(func() { secretStoreFactory = orig })
	return stub
}

func TestSecretListCommand_Empty(t *testing.T) {
	withStubStore(t)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"secret", "list"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No secrets stored.")
}

func TestSecretListCommand(t *testing.T) {
	stub := withStubStore(t)
	require.NoError(t, stub.Store(serviceName, "anthropic-api-key", "sk-ant-test"))

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"secret", "list"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "anthropic-api-key")
}

func TestSecretDeleteCommand(t *testing.T) {
	stub := withStubStore(t)
	require.NoError(t, stub.Store(serviceName, "anthropic-api-key", "sk-ant-test"))

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"secret", "delete", "anthropic-api-key"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Deleted secret: anthropic-api-key")
	assert.Empty(t, stub.data)
}

func TestSecretDeleteCommand_NotFound(t *testing.T) {
	withStubStore(t)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"secret", "delete", "missing"})

	err := root.Execute()
	require.Error(t, err)
	assert.True(t, isaacerr.HasCode(err, isaacerr.CodeSecretNotFound))
}
