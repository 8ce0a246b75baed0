// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package bootstrap

import (
	"errors"
	"os"

	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/keystore"
	"github.com/relabs-tech/arrowhead/core/logger"
)

// snapshot is the content of a file before the commit
type snapshot struct {
	path    string
	data    []byte
	existed bool
}

func take(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snapshot{path: path}, nil
	}
	if err != nil {
		return snapshot{}, failure.Wrap(failure.KindConfig, err, "cannot read "+path)
	}
	return snapshot{path: path, data: data, existed: true}, nil
}

func (s snapshot) restore() error {
	if !s.existed {
		err := os.Remove(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return config.WriteFileAtomic(s.path, s.data, 0600)
}

// commit writes the stores, the issuer key and the configuration. Every single
// write is atomic. If one fails, the files written before are restored.
func (b *Bootstrapper) commit(bundle *Bundle, values map[string]string) error {
	type step struct {
		path  string
		write func() error
	}
	steps := []step{
		{bundle.KeystorePath, func() error { return bundle.Keystore.Save(bundle.KeystorePath, bundle.KeystorePassword) }},
		{bundle.TruststorePath, func() error { return bundle.Truststore.Save(bundle.TruststorePath, bundle.TruststorePassword) }},
	}
	if bundle.IssuerKey != nil {
		steps = append(steps, step{bundle.IssuerKeyPath, func() error { return keystore.SavePublicKey(bundle.IssuerKeyPath, bundle.IssuerKey) }})
	}
	steps = append(steps, step{b.config.Path(), func() error { return b.config.Update(values) }})

	var done []snapshot
	for _, s := range steps {
		snap, err := take(s.path)
		if err == nil {
			err = s.write()
		}
		if err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				if rerr := done[i].restore(); rerr != nil {
					logger.Default().WithError(rerr).Errorf("Error 4850: cannot restore %s", done[i].path)
				}
			}
			return err
		}
		done = append(done, snap)
	}
	return nil
}
