package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/car_tracker/internal/gps"
)

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "decode <hex>",
		Short:   "Decode an 8-byte narrowband payload",
		Example: "  tracker decode 004F0BACFFFFBA44",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := decodePayload(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), f)
			return err
		},
	}
}

func decodePayload(s string) (gps.Fix, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.ReplaceAll(s, " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return gps.Fix{}, fmt.Errorf("decode: %w", err)
	}
	return gps.DecodeFix(b)
}
