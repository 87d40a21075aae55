// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/config"
	"github.com/masa-foundation/masa/lib/runview"
)

// getCommand returns the "get" subcommand.
func getCommand() *cli.Command {
	conn := &connection{}
	var outputPath string

	return &cli.Command{
		Name:    "get",
		Summary: "Download an artifact to a file or stdout",
		Usage:   "masa artifact get <ref> [flags]",
		Description: `Download artifact content by hash, short ref, or tag name.

Writes to the file named by --output, or to stdout when --output is
not set.`,
		Examples: []cli.Example{
			{
				Description: "Download to a file",
				Command:     "masa artifact get art-4f2a91c07d3e --output masa-log.tar",
			},
			{
				Description: "Pipe a tagged artifact into tar",
				Command:     "masa artifact get runs/run-20260315-103000-a1b2/masa-log-windows | tar -x",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("get", pflag.ContinueOnError)
			conn.addFlags(flags)
			flags.StringVar(&outputPath, "output", "", "output file path (default: stdout)")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa artifact get <ref> [flags]")
			}
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			if socket := conn.resolve(cfg); socket != "" {
				client := artifact.NewClient(socket)
				result, err := client.Download(ctx, args[0])
				if err != nil {
					return err
				}
				defer result.Content.Close()
				return writeContent(outputPath, result.Response.Size, func(w io.Writer) error {
					_, err := io.Copy(w, result.Content)
					return err
				})
			}

			store, metadata, tags, err := cli.OpenStore(cfg)
			if err != nil {
				return err
			}
			fileHash, err := resolveDirect(metadata, tags, args[0])
			if err != nil {
				return err
			}
			meta, err := metadata.Read(fileHash)
			if err != nil {
				return err
			}
			return writeContent(outputPath, meta.Size, func(w io.Writer) error {
				_, err := store.Read(fileHash, w)
				return err
			})
		},
	}
}

// writeContent streams artifact content to the output path, or to
// stdout when the path is empty. File output gets a confirmation
// line; stdout output stays clean for piping.
func writeContent(outputPath string, size int64, copyTo func(io.Writer) error) error {
	if outputPath == "" {
		return copyTo(os.Stdout)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := copyTo(file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", outputPath, err)
	}
	fmt.Printf("wrote %s (%s)\n", outputPath, runview.FormatSize(size))
	return nil
}

// putCommand returns the "put" subcommand.
func putCommand() *cli.Command {
	conn := &connection{}
	var (
		name        string
		contentType string
		tag         string
		labels      []string
	)

	return &cli.Command{
		Name:    "put",
		Summary: "Store a file as an artifact",
		Usage:   "masa artifact put [file] [flags]",
		Description: `Store content in the artifact store, outside any workflow run.

Reads from the named file, or from stdin when no file is given (or
the file is "-"). The artifact ref is printed to stdout on success.

Content type is guessed from the filename extension when
--content-type is not set, falling back to "application/octet-stream"
for stdin and unrecognized extensions.`,
		Examples: []cli.Example{
			{
				Description: "Store a build input",
				Command:     "masa artifact put requirements.txt",
			},
			{
				Description: "Store from stdin under a tag",
				Command:     "tar -c dist | masa artifact put --tag inputs/dist --content-type application/x-tar",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("put", pflag.ContinueOnError)
			conn.addFlags(flags)
			flags.StringVar(&name, "name", "", "artifact name recorded in metadata")
			flags.StringVar(&contentType, "content-type", "", "MIME type (default: guessed from the filename)")
			flags.StringVar(&tag, "tag", "", "tag to point at the stored artifact")
			flags.StringSliceVar(&labels, "label", nil, "label to record (repeatable)")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 1 {
				return fmt.Errorf("usage: masa artifact put [file] [flags]")
			}
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			var content io.Reader
			var filename string
			size := artifact.SizeUnknown

			if len(args) == 0 || args[0] == "-" {
				content = os.Stdin
			} else {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer file.Close()
				info, err := file.Stat()
				if err != nil {
					return fmt.Errorf("stat %s: %w", args[0], err)
				}
				content = file
				filename = filepath.Base(args[0])
				size = info.Size()
			}

			if contentType == "" && filename != "" {
				contentType = mime.TypeByExtension(filepath.Ext(filename))
			}
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			var ref string
			if socket := conn.resolve(cfg); socket != "" {
				ref, err = uploadArtifact(ctx, artifact.NewClient(socket), &artifact.UploadHeader{
					Action:      "upload",
					Name:        name,
					ContentType: contentType,
					Filename:    filename,
					Labels:      labels,
					Tag:         tag,
					Size:        size,
				}, content)
			} else {
				ref, err = storeArtifact(cfg, name, contentType, filename, tag, labels, content)
			}
			if err != nil {
				return err
			}

			fmt.Println(ref)
			return nil
		},
	}
}

// uploadArtifact sends content through the artifact service. Small
// sized content is embedded in the upload header; everything else
// streams after it.
func uploadArtifact(ctx context.Context, client *artifact.Client, header *artifact.UploadHeader, content io.Reader) (string, error) {
	if header.Size >= 0 && header.Size <= artifact.SmallArtifactThreshold {
		data, err := io.ReadAll(content)
		if err != nil {
			return "", fmt.Errorf("reading content: %w", err)
		}
		header.Data = data
		header.Size = int64(len(data))
		content = nil
	}

	response, err := client.Upload(ctx, header, content)
	if err != nil {
		return "", err
	}
	return response.Ref, nil
}

// storeArtifact writes content straight into the store directory:
// content, metadata, and optionally a tag.
func storeArtifact(cfg *config.Config, name, contentType, filename, tag string, labels []string, content io.Reader) (string, error) {
	store, metadata, tags, err := cli.OpenStore(cfg)
	if err != nil {
		return "", err
	}

	result, err := store.Write(content, contentType, nil)
	if err != nil {
		return "", err
	}

	now := time.Now()
	meta := &artifact.Metadata{
		FileHash:       result.FileHash,
		Ref:            result.Ref,
		Name:           name,
		ContentType:    contentType,
		Filename:       filename,
		Labels:         labels,
		Size:           result.Size,
		ChunkCount:     result.ChunkCount,
		ContainerCount: result.ContainerCount,
		Compression:    result.Compression.String(),
		StoredAt:       now,
	}
	if err := metadata.Write(meta); err != nil {
		return "", fmt.Errorf("writing metadata: %w", err)
	}

	if tag != "" {
		if err := tags.Set(tag, result.FileHash, nil, true, now); err != nil {
			return "", fmt.Errorf("setting tag %q: %w", tag, err)
		}
	}
	return result.Ref, nil
}
