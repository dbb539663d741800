// backupchain writes a consistent snapshot of the chain into a gzipped tar
// archive: one file per serialized block plus a manifest describing the tip.
// With --restore it does the reverse, validating the archived chain before
// writing it into an empty store.
package main

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/bookchain/bookchaind/infrastructure/config"
	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

type options struct {
	AppDir     string `short:"b" long:"appdir" description:"Directory holding the chain store"`
	Archive    string `short:"o" long:"archive" description:"Path of the archive to write or restore from"`
	Restore    bool   `long:"restore" description:"Restore the chain from the archive into an empty store"`
	Difficulty uint32 `long:"difficulty" description:"Minimum difficulty a restored chain must satisfy"`
}

type manifest struct {
	CreatedMillis int64  `json:"createdMillis"`
	BlockCount    uint64 `json:"blockCount"`
	TipIndex      uint64 `json:"tipIndex"`
	TipHash       string `json:"tipHash"`
}

func main() {
	opts := &options{
		AppDir:     config.DefaultAppDir,
		Difficulty: 1,
	}
	if _, err := flags.Parse(opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	var err error
	if opts.Restore {
		if opts.Archive == "" {
			fmt.Fprintln(os.Stderr, "--restore requires --archive")
			os.Exit(1)
		}
		err = runRestore(opts)
	} else {
		if opts.Archive == "" {
			opts.Archive = fmt.Sprintf("bookchain-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
		}
		err = runBackup(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func runBackup(opts *options) error {
	db, err := ledgerdb.OpenReadOnly(opts.AppDir)
	if err != nil {
		return errors.Wrap(err, "failed opening the chain store")
	}
	defer db.Close()

	blocks, err := loadStoredBlocks(db)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return errors.New("chain store holds no blocks")
	}

	archiveFile, err := os.Create(opts.Archive)
	if err != nil {
		return errors.Wrapf(err, "failed creating archive %s", opts.Archive)
	}
	defer archiveFile.Close()
	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	tip := blocks[len(blocks)-1]
	tipHash, err := tip.Hash()
	if err != nil {
		return err
	}
	manifestData, err := json.MarshalIndent(&manifest{
		CreatedMillis: time.Now().UnixNano() / int64(time.Millisecond),
		BlockCount:    uint64(len(blocks)),
		TipIndex:      tip.Index,
		TipHash:       tipHash.String(),
	}, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := writeArchiveFile(tarWriter, "manifest.json", manifestData); err != nil {
		return err
	}

	for _, block := range blocks {
		serialized, err := block.Serialize()
		if err != nil {
			return err
		}
		name := fmt.Sprintf("blocks/%08d.bin", block.Index)
		if err := writeArchiveFile(tarWriter, name, serialized); err != nil {
			return err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := gzipWriter.Close(); err != nil {
		return errors.WithStack(err)
	}

	fmt.Printf("Backed up %d blocks to %s (tip %s)\n", len(blocks), opts.Archive, tipHash)
	return nil
}

func runRestore(opts *options) error {
	blocks, archiveManifest, err := readArchive(opts.Archive)
	if err != nil {
		return err
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Index < blocks[j].Index })
	if archiveManifest.BlockCount != uint64(len(blocks)) {
		return errors.Errorf("archive manifest promises %d blocks, found %d",
			archiveManifest.BlockCount, len(blocks))
	}
	tip := blocks[len(blocks)-1]
	tipHash, err := tip.Hash()
	if err != nil {
		return err
	}
	if archiveManifest.TipHash != tipHash.String() || archiveManifest.TipIndex != tip.Index {
		return errors.Errorf("archive tip %d (%s) does not match the manifest's %d (%s)",
			tip.Index, tipHash, archiveManifest.TipIndex, archiveManifest.TipHash)
	}
	if err := ledger.ValidateBlockSequence(blocks, opts.Difficulty); err != nil {
		return errors.Wrap(err, "archived chain failed validation")
	}

	db, err := ledgerdb.Open(opts.AppDir)
	if err != nil {
		return errors.Wrap(err, "failed opening the chain store")
	}
	defer db.Close()

	stored, err := loadStoredBlocks(db)
	if err != nil {
		return err
	}
	if len(stored) > 0 {
		return errors.Errorf("chain store at %s already holds %d blocks, refusing to overwrite",
			opts.AppDir, len(stored))
	}

	dbTx, err := db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()
	for _, block := range blocks {
		serialized, err := block.Serialize()
		if err != nil {
			return err
		}
		if err := dbTx.Put(ledgerdb.BlockKey(block.Index), serialized); err != nil {
			return err
		}
	}
	if err := dbTx.Put(ledgerdb.TipKey(), tipHash.ByteSlice()); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}

	fmt.Printf("Restored %d blocks into %s (tip %s)\n", len(blocks), opts.AppDir, tipHash)
	return nil
}

func readArchive(path string) ([]*ledger.Block, *manifest, error) {
	archiveFile, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed opening archive %s", path)
	}
	defer archiveFile.Close()
	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "archive %s is not gzipped", path)
	}
	defer gzipReader.Close()
	tarReader := tar.NewReader(gzipReader)

	var blocks []*ledger.Block
	var archiveManifest *manifest
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed reading archive %s", path)
		}
		data, err := io.ReadAll(tarReader)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed reading %s from the archive", header.Name)
		}

		switch {
		case header.Name == "manifest.json":
			archiveManifest = &manifest{}
			if err := json.Unmarshal(data, archiveManifest); err != nil {
				return nil, nil, errors.Wrap(err, "malformed archive manifest")
			}
		case strings.HasPrefix(header.Name, "blocks/"):
			block, err := ledger.DeserializeBlock(data)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "malformed block record %s", header.Name)
			}
			blocks = append(blocks, block)
		}
	}

	if archiveManifest == nil {
		return nil, nil, errors.Errorf("archive %s carries no manifest", path)
	}
	if len(blocks) == 0 {
		return nil, nil, errors.Errorf("archive %s carries no blocks", path)
	}
	return blocks, archiveManifest, nil
}

func loadStoredBlocks(db *ledgerdb.LedgerDB) ([]*ledger.Block, error) {
	var blocks []*ledger.Block
	cursor := db.Cursor(ledgerdb.BlockKeyPrefix())
	for cursor.Next() {
		block, err := ledger.DeserializeBlock(cursor.Value())
		if err != nil {
			cursor.Close()
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := cursor.Close(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func writeArchiveFile(tarWriter *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return errors.WithStack(err)
	}
	_, err := tarWriter.Write(data)
	return errors.WithStack(err)
}
