package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// NetworkFile describes a published NNUE network.
type NetworkFile struct {
	Name string
	URL  string
	Size int64 // expected size in bytes
}

// Default Stockfish networks, small one first.
var DefaultNetworks = []NetworkFile{
	{
		Name: "nn-37f18f62d772.nnue",
		URL:  "https://tests.stockfishchess.org/api/nn/nn-37f18f62d772.nnue",
		Size: 3674624,
	},
	{
		Name: "nn-c288c895ea92.nnue",
		URL:  "https://tests.stockfishchess.org/api/nn/nn-c288c895ea92.nnue",
		Size: 113246144,
	},
}

// FetchProgress is reported while a network file downloads.
type FetchProgress struct {
	File          string
	FileNo        int
	TotalFiles    int
	BytesReceived int64
	TotalBytes    int64
}

// NetworkFetcher downloads network files into a directory.
type NetworkFetcher struct {
	Client *http.Client
	Logger zerolog.Logger

	// OnProgress, if set, is called after every chunk written.
	OnProgress func(FetchProgress)
}

// Fetch downloads files into dir. Files already present with more than
// half their expected size are kept.
func (f *NetworkFetcher) Fetch(ctx context.Context, dir string, files []NetworkFile) error {
	for i, nf := range files {
		p := FetchProgress{File: nf.Name, FileNo: i + 1, TotalFiles: len(files), TotalBytes: nf.Size}
		if err := f.fetchFile(ctx, nf, filepath.Join(dir, nf.Name), p); err != nil {
			return err
		}
	}
	return nil
}

func (f *NetworkFetcher) fetchFile(ctx context.Context, nf NetworkFile, destPath string, p FetchProgress) error {
	// Minor size variations between published versions are tolerated.
	if info, err := os.Stat(destPath); err == nil && info.Size() > nf.Size/2 {
		f.Logger.Debug().Str("file", nf.Name).Msg("network-present")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nf.URL, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", nf.Name, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", nf.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", nf.Name, resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("write %s: %w", tmpPath, werr)
			}
			p.BytesReceived += int64(n)
			if f.OnProgress != nil {
				f.OnProgress(p)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("download %s: %w", nf.Name, err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	f.Logger.Info().
		Str("file", nf.Name).
		Str("size", humanize.IBytes(uint64(p.BytesReceived))).
		Msg("network-downloaded")
	return nil
}
