package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the structural validation pass over durable state",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withKernel(10, func(_ context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.Validate(validateStrict)
		})
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "promote warnings to errors")
}
