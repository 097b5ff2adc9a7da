package display

import (
	"io"
	"os"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/spf13/cobra"
)

// OutputEnv, when set to "json", switches every command to JSON output.
const OutputEnv = "GOMETA_OUTPUT"

// ShouldOutputJSON determines if a command should output JSON based on its
// --json flag, the root's persistent --json flag and OutputEnv.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return jsonFromEnv()
	}

	if f := cmd.Flags().Lookup("json"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool("json")
		return v
	}

	if globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); globalFlag {
		return true
	}

	return jsonFromEnv()
}

func jsonFromEnv() bool {
	return os.Getenv(OutputEnv) == "json"
}

// OutputJSON marshals v with MarshalJSON and writes it to w.
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write JSON")
	}
	return nil
}
