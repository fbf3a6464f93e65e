package meter

import (
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/metrics"
)

// Sink receives one message per field, topic is field name.
// Delivery and retries are Sink's business.
type Sink interface {
	Publish(topic string, payload string) error
}

type SinkFunc func(topic, payload string) error

func (f SinkFunc) Publish(topic, payload string) error { return f(topic, payload) }

// WriterSink prints "name value" lines, for looking at a meter without broker.
func WriterSink(w io.Writer) Sink {
	return SinkFunc(func(topic, payload string) error {
		_, err := fmt.Fprintf(w, "%s %s\n", topic, payload)
		return err
	})
}

// Publish forwards every field independently, a failed field does not stop the rest.
// Returns number of fields the sink accepted.
func Publish(sink Sink, n NormalizedFrame, log *log2.Log, m *metrics.Meter) (int, error) {
	count := 0
	var errs []error
	for _, f := range n.fields {
		err := sink.Publish(f.Name, f.Value.String())
		num, numeric := f.Value.Number()
		m.Publish(f.Name, num, numeric, err)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "publish field=%s", f.Name))
			continue
		}
		count++
	}
	log.Infof("%d data points published", count)
	return count, helpers.FoldErrors(errs)
}
