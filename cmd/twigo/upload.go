package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"twigo/pkg/client"
	"twigo/pkg/upload"
)

var (
	// Upload command flags
	mediaType     string
	mediaCategory string
	chunkSize     int
	forceChunked  bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file|url>",
	Short: "Upload an image, GIF or video",
	Long: `Upload media and print its media id.

Files larger than the configured size limit are sent in chunks, and the
command waits until the server has finished processing them. A URL is
downloaded and streamed to the upload endpoint.`,
	Example: `  # Upload a photo
  twigo upload photo.jpg

  # Upload a video in 4 MiB chunks
  twigo upload clip.mp4 --chunk-size 4194304`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&mediaType, "media-type", "", "MIME type (detected when empty)")
	uploadCmd.Flags().StringVar(&mediaCategory, "category", "", "media category (derived from the type when empty)")
	uploadCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in bytes (default from configuration)")
	uploadCmd.Flags().BoolVar(&forceChunked, "chunked", false, "use the chunked protocol regardless of size")
}

func runUpload(cmd *cobra.Command, args []string) error {
	source := args[0]

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var media upload.Media
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, source, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", source, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("failed to download %s: %s", source, resp.Status)
		}
		media = upload.HTTPBody{Response: resp}
	} else {
		f, err := os.Open(source)
		if err != nil {
			return err
		}
		defer f.Close()
		media = upload.Stream{Reader: f, Filename: filepath.Base(source)}
	}

	printInfo("Uploading", source)
	resp, err := c.Upload(cmd.Context(), media, upload.Options{
		MediaType: mediaType,
		Category:  mediaCategory,
		ChunkSize: chunkSize,
		Chunked:   forceChunked,
	})
	if err != nil {
		return err
	}

	id, err := client.MediaID(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout(), id)
	printSuccess("Upload complete")
	return nil
}
