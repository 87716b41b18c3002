package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/webpubio/webpub/internal/archive"
	"github.com/webpubio/webpub/internal/merkle"
	"github.com/webpubio/webpub/internal/scanner"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <dir> <file>",
	Short: "Pack a directory into a single deduplicated archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, output := args[0], args[1]

		root, err := scanner.Scan(dir)
		if err != nil {
			return err
		}
		tree, chunks := merkle.Build(root)

		if err := archive.Write(output, tree, chunks); err != nil {
			return err
		}

		var total uint64
		for _, c := range chunks {
			total += uint64(len(c.Data))
		}
		fmt.Printf("%s %s (%d chunks, %s, root %s)\n",
			green("archived"), output, len(chunks), humanize.Bytes(total), cyan(tree.Hash.String()[:12]))
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <file> <dir>",
	Short: "Unpack an archive into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, dir := args[0], args[1]

		r, err := archive.Open(input)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Extract(dir); err != nil {
			return err
		}
		fmt.Printf("%s %s -> %s\n", green("extracted"), input, dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(extractCmd)
}
