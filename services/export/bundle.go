// Package export builds and verifies portable evidence bundles: a tar.zst
// archive holding the session record, its chain, the issued proof, and a
// signed manifest over all three.
package export

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"vcoded/services/attest"
	"vcoded/services/vcode"
)

const (
	manifestFileName = "manifest.yaml"
	sessionFileName  = "session.json"
	chainFileName    = "chain.json"
	proofFileName    = "proof.json"
)

// BuildConfig configures evidence bundle creation. Proof may be nil for
// sessions that have not completed.
type BuildConfig struct {
	Session vcode.Session
	Chain   []vcode.ChainEntry
	Proof   *vcode.Proof
	Output  string
	Signer  *attest.Signer
	Now     func() time.Time
	Stdout  io.Writer
}

// Build assembles a signed evidence bundle and writes the tar.zst archive to
// Output.
func Build(cfg BuildConfig) (*Manifest, error) {
	if cfg.Session.ID == uuid.Nil {
		return nil, errors.New("session is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if !cfg.Signer.CanSign() {
		return nil, errors.New("signer holds no private key")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	files, err := bundleFiles(cfg.Session, cfg.Chain, cfg.Proof)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Version:          "1",
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		SessionID:        cfg.Session.ID.String(),
		ChainLength:      len(cfg.Chain),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
	}
	if len(cfg.Chain) > 0 {
		manifest.ChainHead = cfg.Chain[len(cfg.Chain)-1].Hash
	}
	for _, f := range files {
		sum := sha256.Sum256(f.data)
		manifest.Files = append(manifest.Files, ManifestFile{
			Path:   f.name,
			Size:   int64(len(f.data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg.Output, manifestBytes, files); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d files)\n", cfg.Output, len(files))
	return manifest, nil
}

// Contents is the decoded payload of a verified bundle.
type Contents struct {
	Manifest Manifest
	Session  vcode.Session
	Chain    []vcode.ChainEntry
	Proof    *vcode.Proof
}

// Verify reads a bundle, checks every file digest against the manifest,
// verifies the manifest signature, and re-derives the chain. A nil signer
// verifies against the public key embedded in the manifest.
func Verify(path string, signer *attest.Signer) (*Contents, error) {
	manifestBytes, files, err := readBundle(path)
	if err != nil {
		return nil, err
	}
	if manifestBytes == nil {
		return nil, errors.New("bundle is missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if signer == nil {
		if manifest.SigningPublicKey == "" {
			return nil, errors.New("manifest carries no signing key and no signer was provided")
		}
		signer, err = attest.NewSigner("", manifest.SigningPublicKey)
		if err != nil {
			return nil, err
		}
	}
	if err := signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, err
	}

	for _, mf := range manifest.Files {
		data, ok := files[mf.Path]
		if !ok {
			return nil, fmt.Errorf("bundle is missing %s", mf.Path)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != mf.SHA256 {
			return nil, fmt.Errorf("digest mismatch for %s", mf.Path)
		}
	}

	contents := &Contents{Manifest: manifest}

	if data, ok := files[sessionFileName]; ok {
		if err := json.Unmarshal(data, &contents.Session); err != nil {
			return nil, fmt.Errorf("parse %s: %w", sessionFileName, err)
		}
	}
	if data, ok := files[chainFileName]; ok {
		if err := json.Unmarshal(data, &contents.Chain); err != nil {
			return nil, fmt.Errorf("parse %s: %w", chainFileName, err)
		}
	}
	if data, ok := files[proofFileName]; ok {
		var proof vcode.Proof
		if err := json.Unmarshal(data, &proof); err != nil {
			return nil, fmt.Errorf("parse %s: %w", proofFileName, err)
		}
		contents.Proof = &proof
	}

	if contents.Session.ID == uuid.Nil {
		return nil, errors.New("bundle is missing session.json")
	}
	if !vcode.VerifyChain(contents.Session.ID, contents.Chain) {
		return nil, errors.New("chain verification failed")
	}
	if len(contents.Chain) != manifest.ChainLength {
		return nil, fmt.Errorf("manifest declares %d chain entries, bundle carries %d", manifest.ChainLength, len(contents.Chain))
	}

	return contents, nil
}

type bundleFile struct {
	name string
	data []byte
}

func bundleFiles(session vcode.Session, chain []vcode.ChainEntry, proof *vcode.Proof) ([]bundleFile, error) {
	sessionJSON, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	chainJSON, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal chain: %w", err)
	}

	files := []bundleFile{
		{name: sessionFileName, data: sessionJSON},
		{name: chainFileName, data: chainJSON},
	}

	if proof != nil {
		proofJSON, err := json.MarshalIndent(proof, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal proof: %w", err)
		}
		files = append(files, bundleFile{name: proofFileName, data: proofJSON})
	}

	return files, nil
}

func writeBundle(output string, manifest []byte, files []bundleFile) error {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	encoder, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	now := time.Now().UTC()
	entries := append([]bundleFile{{name: manifestFileName, data: manifest}}, files...)
	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.name,
			Mode:     0o644,
			Size:     int64(len(entry.data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return fmt.Errorf("write %s: %w", entry.name, err)
		}
	}

	return nil
}

func readBundle(path string) (manifest []byte, files map[string][]byte, err error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open bundle: %w", err)
	}
	defer in.Close()

	decoder, err := zstd.NewReader(in)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)
	files = map[string][]byte{}

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read bundle: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", header.Name, err)
		}

		if header.Name == manifestFileName {
			manifest = buf.Bytes()
			continue
		}
		files[header.Name] = buf.Bytes()
	}

	return manifest, files, nil
}
