// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

//go:build tpm2

// Package tpm2 implements keystore.Keystore with a TPM 2.0.
//
// Key material is drawn from the TPM random number generator and sealed
// under the Storage Root Key as a keyed-hash object. Only the public and
// encrypted private blobs are written to storage; the material is unsealed
// inside the TPM for each block operation and zeroed afterwards.
package tpm2

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/tcp"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "tpm2"

const (
	// DefaultDevicePath is the kernel resource manager device.
	DefaultDevicePath = "/dev/tpmrm0"

	// DefaultSRKHandle is the persistent handle of the Storage Root Key.
	DefaultSRKHandle = 0x81000001

	simulatorSeed = 1234567890
)

// Config configures the TPM keystore.
type Config struct {
	DevicePath    string `yaml:"device_path"`
	UseSimulator  bool   `yaml:"use_simulator"`
	SimulatorType string `yaml:"simulator_type"` // "embedded" or "swtpm"
	SimulatorHost string `yaml:"simulator_host"`
	SimulatorPort int    `yaml:"simulator_port"`
	SRKHandle     uint32 `yaml:"srk_handle"`

	// Storage receives the sealed blobs. Required.
	Storage storage.Backend `yaml:"-"`

	Logger logger.Logger `yaml:"-"`
}

// KeyStore is the TPM 2.0 keystore.
type KeyStore struct {
	mu        sync.Mutex
	tpm       transport.TPMCloser
	storage   storage.Backend
	srkHandle tpm2.TPMHandle
	srkName   tpm2.TPM2BName
	log       logger.Logger
}

type paramsRecord struct {
	Params keystore.KeyParams `json:"params"`
}

// New opens the TPM described by cfg and ensures the SRK exists.
func New(cfg *Config) (*KeyStore, error) {
	if cfg == nil || cfg.Storage == nil {
		return nil, fmt.Errorf("tpm2: storage is required")
	}
	tpm, err := openTPM(cfg)
	if err != nil {
		return nil, err
	}
	return newWithTransport(tpm, cfg)
}

// NewOpener returns an Opener for cfg.
func NewOpener(cfg *Config) keystore.Opener {
	return keystore.OpenerFunc(func() (keystore.Keystore, error) {
		return New(cfg)
	})
}

func newWithTransport(tpm transport.TPMCloser, cfg *Config) (*KeyStore, error) {
	handle := cfg.SRKHandle
	if handle == 0 {
		handle = DefaultSRKHandle
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	ks := &KeyStore{
		tpm:       tpm,
		storage:   cfg.Storage,
		srkHandle: tpm2.TPMHandle(handle),
		log:       log.With(logger.String("backend", BackendName)),
	}
	if err := ks.ensureSRK(); err != nil {
		tpm.Close()
		return nil, err
	}
	return ks, nil
}

// Backend returns "tpm2".
func (ks *KeyStore) Backend() string {
	return BackendName
}

// GetKey returns a handle for a previously sealed key.
func (ks *KeyStore) GetKey(name string) (keystore.Key, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.tpm == nil {
		return nil, keystore.ErrClosed
	}
	data, err := storage.GetKey(ks.storage, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, keystore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("tpm2: failed to load key record: %w", err)
	}
	var rec paramsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tpm2: corrupt key record %q: %w", name, err)
	}

	pub, err := ks.loadPublic(name)
	if err != nil {
		return nil, err
	}
	contents, err := pub.Contents()
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to get public contents: %w", err)
	}
	if contents.Type != tpm2.TPMAlgKeyedHash {
		return nil, fmt.Errorf("tpm2: %q is not a sealed data object", name)
	}
	return &key{name: name, params: rec.Params, ks: ks}, nil
}

// GenerateKey draws key material from the TPM and seals it under the SRK.
func (ks *KeyStore) GenerateKey(name string, params *keystore.KeyParams) (keystore.Key, error) {
	if err := keystore.ValidateName(name); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	// TPM 2.0 does not define AES-192.
	if params.KeySize != 128 && params.KeySize != 256 {
		return nil, fmt.Errorf("%w: tpm2 supports 128 or 256 bit keys", keystore.ErrInvalidParams)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.tpm == nil {
		return nil, keystore.ErrClosed
	}
	exists, err := storage.KeyExists(ks.storage, name+storage.ExtPrivate)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to check key existence: %w", err)
	}
	if exists {
		return nil, keystore.ErrKeyAlreadyExists
	}

	material, err := ks.random(params.KeySize / 8)
	if err != nil {
		return nil, err
	}
	defer keystore.Zero(material)

	createResp, err := tpm2.Create{
		ParentHandle: ks.srk(),
		InPublic:     tpm2.New2B(sealTemplate()),
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(&tpm2.TPM2BSensitiveData{Buffer: material}),
			},
		},
	}.Execute(ks.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to seal key: %w", err)
	}

	if err := storage.SaveKey(ks.storage, name+storage.ExtPrivate, tpm2.Marshal(createResp.OutPrivate)); err != nil {
		return nil, fmt.Errorf("tpm2: failed to save private blob: %w", err)
	}
	if err := storage.SaveKey(ks.storage, name+storage.ExtPublic, tpm2.Marshal(createResp.OutPublic)); err != nil {
		_ = storage.DeleteKey(ks.storage, name+storage.ExtPrivate)
		return nil, fmt.Errorf("tpm2: failed to save public blob: %w", err)
	}
	rec, err := json.Marshal(&paramsRecord{Params: *params})
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to encode key record: %w", err)
	}
	if err := storage.SaveKey(ks.storage, name, rec); err != nil {
		_ = storage.DeleteKey(ks.storage, name+storage.ExtPrivate)
		_ = storage.DeleteKey(ks.storage, name+storage.ExtPublic)
		return nil, fmt.Errorf("tpm2: failed to save key record: %w", err)
	}

	ks.log.Debug("sealed key", logger.String("key", name), logger.Int("key_size", params.KeySize))
	return &key{name: name, params: *params, ks: ks}, nil
}

// Close closes the TPM transport.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.tpm == nil {
		return nil
	}
	err := ks.tpm.Close()
	ks.tpm = nil
	return err
}

func (ks *KeyStore) srk() *tpm2.NamedHandle {
	return &tpm2.NamedHandle{Handle: ks.srkHandle, Name: ks.srkName}
}

func (ks *KeyStore) random(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		want := n - len(out)
		if want > 32 {
			want = 32
		}
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(want)}.Execute(ks.tpm)
		if err != nil {
			return nil, fmt.Errorf("tpm2: failed to get random bytes: %w", err)
		}
		out = append(out, rsp.RandomBytes.Buffer...)
	}
	return out[:n], nil
}

func (ks *KeyStore) loadPublic(name string) (*tpm2.TPM2BPublic, error) {
	blob, err := storage.GetKey(ks.storage, name+storage.ExtPublic)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, keystore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("tpm2: failed to load public blob: %w", err)
	}
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](blob)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to unmarshal public blob: %w", err)
	}
	return pub, nil
}

// unseal loads the sealed object under the SRK and returns its data. The
// caller must zero the result.
func (ks *KeyStore) unseal(name string) ([]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.tpm == nil {
		return nil, keystore.ErrClosed
	}
	privBlob, err := storage.GetKey(ks.storage, name+storage.ExtPrivate)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, keystore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("tpm2: failed to load private blob: %w", err)
	}
	priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](privBlob)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to unmarshal private blob: %w", err)
	}
	pub, err := ks.loadPublic(name)
	if err != nil {
		return nil, err
	}

	loadResp, err := tpm2.Load{
		ParentHandle: ks.srk(),
		InPrivate:    *priv,
		InPublic:     *pub,
	}.Execute(ks.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to load sealed key: %w", err)
	}
	defer tpm2.FlushContext{FlushHandle: loadResp.ObjectHandle}.Execute(ks.tpm)

	unsealResp, err := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: loadResp.ObjectHandle,
			Name:   loadResp.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
	}.Execute(ks.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to unseal key: %w", err)
	}
	return unsealResp.OutData.Buffer, nil
}

// ensureSRK reads the SRK name, creating and persisting the SRK when the
// handle is empty.
func (ks *KeyStore) ensureSRK() error {
	readPub, err := tpm2.ReadPublic{ObjectHandle: ks.srkHandle}.Execute(ks.tpm)
	if err == nil {
		ks.srkName = readPub.Name
		return nil
	}

	ks.log.Info("creating storage root key", logger.String("handle", fmt.Sprintf("0x%x", uint32(ks.srkHandle))))
	primary, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(srkTemplate()),
	}.Execute(ks.tpm)
	if err != nil {
		return fmt.Errorf("tpm2: failed to create primary key: %w", err)
	}
	defer tpm2.FlushContext{FlushHandle: primary.ObjectHandle}.Execute(ks.tpm)

	_, err = tpm2.EvictControl{
		Auth: tpm2.TPMRHOwner,
		ObjectHandle: &tpm2.NamedHandle{
			Handle: primary.ObjectHandle,
			Name:   primary.Name,
		},
		PersistentHandle: ks.srkHandle,
	}.Execute(ks.tpm)
	if err != nil {
		return fmt.Errorf("tpm2: failed to persist SRK: %w", err)
	}
	ks.srkName = primary.Name
	return nil
}

func srkTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			Restricted:          true,
			Decrypt:             true,
			NoDA:                true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Symmetric: tpm2.TPMTSymDefObject{
					Algorithm: tpm2.TPMAlgAES,
					KeyBits:   tpm2.NewTPMUSymKeyBits(tpm2.TPMAlgAES, tpm2.TPMKeyBits(128)),
					Mode:      tpm2.NewTPMUSymMode(tpm2.TPMAlgAES, tpm2.TPMAlgCFB),
				},
				Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
				KeyBits: 2048,
			},
		),
	}
}

func sealTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgKeyedHash,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:     true,
			FixedParent:  true,
			UserWithAuth: true,
			NoDA:         true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgKeyedHash,
			&tpm2.TPMSKeyedHashParms{
				Scheme: tpm2.TPMTKeyedHashScheme{Scheme: tpm2.TPMAlgNull},
			},
		),
	}
}

func openTPM(cfg *Config) (transport.TPMCloser, error) {
	if !cfg.UseSimulator {
		path := cfg.DevicePath
		if path == "" {
			path = DefaultDevicePath
		}
		tpm, err := transport.OpenTPM(path)
		if err != nil {
			return nil, fmt.Errorf("tpm2: failed to open TPM device %s: %w", path, err)
		}
		return tpm, nil
	}

	switch cfg.SimulatorType {
	case "", "embedded":
		sim, err := simulator.GetWithFixedSeedInsecure(simulatorSeed)
		if err != nil {
			return nil, fmt.Errorf("tpm2: failed to open embedded simulator: %w", err)
		}
		return &simulatorCloser{sim: sim, transport: transport.FromReadWriter(sim)}, nil
	case "swtpm":
		host := cfg.SimulatorHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.SimulatorPort
		if port == 0 {
			port = 2321
		}
		cmdAddr := fmt.Sprintf("%s:%d", host, port)
		platAddr := fmt.Sprintf("%s:%d", host, port+1)
		tpm, err := tcp.Open(tcp.Config{CommandAddress: cmdAddr, PlatformAddress: platAddr})
		if err != nil {
			return nil, fmt.Errorf("tpm2: failed to connect to SWTPM at %s: %w", cmdAddr, err)
		}
		return tpm, nil
	default:
		return nil, fmt.Errorf("tpm2: invalid simulator type %q", cfg.SimulatorType)
	}
}

type simulatorCloser struct {
	sim       *simulator.Simulator
	transport transport.TPM
}

func (sc *simulatorCloser) Send(input []byte) ([]byte, error) {
	return sc.transport.Send(input)
}

func (sc *simulatorCloser) Close() error {
	return sc.sim.Close()
}

type key struct {
	name   string
	params keystore.KeyParams
	ks     *KeyStore
}

func (k *key) Name() string               { return k.name }
func (k *key) Params() keystore.KeyParams { return k.params }

func (k *key) EncryptBlocks(iv, src []byte) ([]byte, error) {
	return k.crypt(types.Encrypt, iv, src)
}

func (k *key) DecryptBlocks(iv, src []byte) ([]byte, error) {
	return k.crypt(types.Decrypt, iv, src)
}

func (k *key) crypt(mode types.Mode, iv, src []byte) ([]byte, error) {
	if err := keystore.CheckPurpose(k.params, mode); err != nil {
		return nil, err
	}
	if err := keystore.CheckBlocks(iv, src); err != nil {
		return nil, err
	}
	material, err := k.ks.unseal(k.name)
	if err != nil {
		return nil, err
	}
	defer keystore.Zero(material)

	if mode == types.Encrypt {
		return keystore.EncryptCBC(material, iv, src)
	}
	return keystore.DecryptCBC(material, iv, src)
}

var _ keystore.Keystore = (*KeyStore)(nil)
