package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/ndlib/paperstore/util"
)

func newStressCmd() *cobra.Command {
	var opts stressOptions

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Upload and read back random papers against a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			result := runStress(cmd.Context(), opts)
			fmt.Fprintf(cmd.OutOrStdout(), "%d uploads, %d failed, %d bytes, %v\n",
				result.N, result.Failed, result.Bytes, result.Elapsed)
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", result.Failed, result.N)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:5000", "base url of the server to test")
	cmd.Flags().IntVarP(&opts.N, "count", "n", 100, "number of papers to upload")
	cmd.Flags().IntVar(&opts.Workers, "workers", 10, "number of uploads at once")
	cmd.Flags().IntVarP(&opts.MaxSize, "max-size", "z", 1<<20, "largest paper in bytes")
	return cmd
}

type stressOptions struct {
	URL     string
	N       int
	Workers int
	MaxSize int
}

func (opts stressOptions) validate() error {
	switch {
	case opts.N < 0:
		return fmt.Errorf("count must not be negative, got %d", opts.N)
	case opts.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", opts.Workers)
	case opts.MaxSize < 0:
		return fmt.Errorf("max-size must not be negative, got %d", opts.MaxSize)
	}
	return nil
}

type stressResult struct {
	N       int
	Failed  int64
	Bytes   int64
	Elapsed time.Duration
}

// runStress uploads N papers of random size and content, with at most
// Workers in flight, and checks each one reads back unchanged.
func runStress(ctx context.Context, opts stressOptions) stressResult {
	if ctx == nil {
		ctx = context.Background()
	}
	var wg sync.WaitGroup
	var result = stressResult{N: opts.N}
	gate := util.NewGate(opts.Workers)
	starttime := time.Now()
	for i := 0; i < opts.N; i++ {
		if err := gate.Enter(ctx); err != nil {
			atomic.AddInt64(&result.Failed, int64(opts.N-i))
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer gate.Leave()
			size := rand.Intn(opts.MaxSize + 1)
			err := stressOne(ctx, opts.URL, i, size)
			if err != nil {
				log.Printf("stress: paper %d: %s", i, err)
				atomic.AddInt64(&result.Failed, 1)
				return
			}
			atomic.AddInt64(&result.Bytes, int64(size))
		}(i)
	}
	wg.Wait()
	result.Elapsed = time.Since(starttime)
	return result
}

// stressOne uploads a single paper and reads it back.
func stressOne(ctx context.Context, base string, i, size int) error {
	data := make([]byte, size)
	rand.Read(data)
	goal := md5.Sum(data)

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="pdf"; filename="stress%05d.pdf"`, i))
	h.Set("Content-Type", "application/pdf")
	pw, _ := mw.CreatePart(h)
	pw.Write(data)
	mw.WriteField("title", fmt.Sprintf("Stress %d", i))
	mw.WriteField("noAuthors", "1")
	mw.WriteField("authors", `[{"name":"stress"}]`)
	mw.WriteField("documentType", "Research")
	mw.WriteField("abstract", "")
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", base+"/api/upload-paper", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 201 {
		return fmt.Errorf("upload received status %d", resp.StatusCode)
	}
	var created struct {
		FileID string `json:"fileId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return err
	}

	req, err = http.NewRequestWithContext(ctx, "GET", base+"/api/papers/"+created.FileID, nil)
	if err != nil {
		return err
	}
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != 200 {
		return fmt.Errorf("download %s received status %d", created.FileID, resp2.StatusCode)
	}
	hw := util.NewHashWriterPlain()
	n, err := io.Copy(hw, resp2.Body)
	if err != nil {
		return err
	}
	if got, ok := hw.CheckMD5(goal[:]); !ok || n != int64(size) {
		return fmt.Errorf("download %s: %d bytes with md5 %x, expected %d bytes with md5 %x",
			created.FileID, n, got, size, goal)
	}
	return nil
}
