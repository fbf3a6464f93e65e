// Offline decoding of one captured frame, for wiring and meter model diagnosis.
package decode

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/cmd/powermeter/subcmd"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/meter"
)

var Mod = subcmd.Mod{Name: "decode", Usage: "decode HEX frame given as arguments", ConfigOptional: true, Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	if len(args) == 0 {
		return errors.NotValidf("usage: decode HEX")
	}
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' || r == '\n' || r == '\t' {
			return -1
		}
		return r
	}, strings.Join(args, ""))
	frame, err := hex.DecodeString(s)
	if err != nil {
		return errors.Annotate(err, "frame hex")
	}
	return Decode(os.Stdout, frame, config, g.Log)
}

// Decode prints checksum verdict, missing tags and normalized fields of one frame.
func Decode(w io.Writer, frame []byte, config *state.Config, log *log2.Log) error {
	tf, err := meter.Trim(frame)
	if err != nil {
		return errors.Annotate(err, "decode")
	}
	expect, err := tf.ComputeChecksum()
	if err != nil {
		return errors.Annotate(err, "decode")
	}
	fmt.Fprintf(w, "# bytes=%d checksum=%s computed=%s\n", len(frame), tf.Checksum, expect)

	v := meter.NewValidator(meter.ValidateStrict, log, nil)
	config.ApplyValidator(v)
	body, ok := v.Accept(frame)
	if !ok {
		return errors.NotValidf("frame (validate=%s)", v.Mode)
	}

	e := meter.NewExtractor(log, nil)
	config.ApplyExtractor(e)
	decoded, missing := e.Extract(body)
	if len(missing) != 0 {
		fmt.Fprintf(w, "# missing %s\n", strings.Join(missing, " "))
	}
	normalized, err := meter.Normalize(decoded)
	if err != nil {
		fmt.Fprintf(w, "# %s\n", strings.ReplaceAll(err.Error(), "\n", "\n# "))
	}
	_, err = meter.Publish(meter.WriterSink(w), normalized, log, nil)
	return err
}
