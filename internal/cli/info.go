package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/database"
	"kdbx-ng/internal/header"
	"kdbx-ng/internal/util"
	"kdbx-ng/internal/vardict"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the unencrypted header of a database",
	Long: `Show the outer header of a KDBX database. No credentials are needed.

Examples:
  kdbx info -i passwords.kdbx`,
	RunE: runInfo,
}

var infoInput string

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&infoInput, "input", "i", "", "Database file")
	_ = infoCmd.MarkFlagRequired("input")
}

func runInfo(cmd *cobra.Command, args []string) error {
	f, err := os.Open(infoInput)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	br := bufio.NewReader(f)
	out := cmd.OutOrStdout()

	// The version line is printed even when the rest of the header is
	// unsupported.
	prefix, _ := br.Peek(header.PrefixSize)
	major, minor, err := header.PeekVersion(bytes.NewReader(prefix))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Format:       KDBX %d.%d\n", major, minor)

	h, raw, err := header.ReadOuter(br)
	if err != nil {
		return err
	}
	return printHeader(out, h, len(raw), stat.Size())
}

func printHeader(out io.Writer, h *header.Header, headerSize int, fileSize int64) error {
	fmt.Fprintf(out, "File size:    %s\n", util.Sizeify(fileSize))
	fmt.Fprintf(out, "Header size:  %d bytes\n", headerSize)

	cipher, err := h.Cipher()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cipher:       %s\n", crypto.CipherName(cipher))
	fmt.Fprintf(out, "Compression:  %s\n", h.Compression())

	params, err := (&database.Document{Outer: h}).KDFParams()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "KDF:          %s\n", describeKDF(params))

	if h.Major == header.Major3 {
		if id, ok := h.StreamID(header.InnerRandomStreamID); ok {
			fmt.Fprintf(out, "Inner stream: %s\n", id)
		}
	}
	if c, ok := h.Bytes(header.Comment); ok {
		fmt.Fprintf(out, "Comment:      %q\n", c)
	}
	if cd, ok := h.VarDict(header.PublicCustomData); ok && cd.Len() > 0 {
		keys := make([]string, 0, cd.Len())
		for _, e := range cd.Entries {
			keys = append(keys, e.Key)
		}
		sort.Strings(keys)
		fmt.Fprintf(out, "Custom data:  %v\n", keys)
	}
	for _, it := range h.Items {
		if it.ID > header.PublicCustomData {
			fmt.Fprintf(out, "Extra item:   %s, %d bytes\n", h.Schema.Name(it.ID), len(it.Value.Bytes()))
		}
	}
	return nil
}

func describeKDF(params *vardict.Dictionary) string {
	id, err := crypto.KDFID(params)
	if err != nil {
		return err.Error()
	}
	switch id {
	case crypto.KdfAES:
		rounds, _ := params.UInt64(crypto.ParamRounds)
		return fmt.Sprintf("%s, %d rounds", crypto.KDFName(id), rounds)
	case crypto.KdfArgon2d, crypto.KdfArgon2id:
		iterations, _ := params.UInt64(crypto.ParamIterations)
		memory, _ := params.UInt64(crypto.ParamMemory)
		parallelism, _ := params.UInt32(crypto.ParamParallelism)
		return fmt.Sprintf("%s, %d iterations, %s memory, parallelism %d",
			crypto.KDFName(id), iterations, util.Sizeify(int64(memory)), parallelism)
	}
	return crypto.KDFName(id)
}
