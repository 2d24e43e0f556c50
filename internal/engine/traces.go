package engine

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type traceFile struct {
	f   *os.File
	buf *bufio.Writer
}

func createTraceFile(path, header string) (*traceFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t := &traceFile{f: f, buf: bufio.NewWriter(f)}
	if _, err := t.buf.WriteString(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

func (t *traceFile) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(t.buf, format, args...)
	return err
}

func (t *traceFile) Flush() error { return t.buf.Flush() }

func (t *traceFile) Close() error {
	return errors.Join(t.buf.Flush(), t.f.Close())
}

type traceKey struct {
	layer Layer
	dir   Direction
}

// traceSet holds the per-PDU PHY and MAC trace files.
type traceSet struct {
	files map[traceKey]*traceFile
}

const (
	phyTraceHeader = "% time\tcellId\tIMSI\tRNTI\tlayer\tsize\n"
	macTraceHeader = "% time\tcellId\tIMSI\tframe\tsframe\tRNTI\tsize\n"
)

// TraceFileName returns the output file of a per-PDU trace or statistics
// sink.
func TraceFileName(layer Layer, dir Direction) string {
	prefix := "Dl"
	if dir == Uplink {
		prefix = "Ul"
	}
	switch layer {
	case LayerPhy:
		return prefix + "TxPhyStats.txt"
	case LayerMac:
		return prefix + "MacStats.txt"
	case LayerRlc:
		return prefix + "RlcStats.txt"
	case LayerPdcp:
		return prefix + "PdcpStats.txt"
	default:
		return ""
	}
}

// EnableTraces turns on trace output for the given layers, or for every
// layer when none is named. PHY and MAC produce per-PDU traces; RLC and PDCP
// produce per-epoch statistics.
func (s *Simulator) EnableTraces(layerList ...Layer) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if len(layerList) == 0 {
		layerList = []Layer{LayerPhy, LayerMac, LayerRlc, LayerPdcp}
	}
	for _, layer := range layerList {
		var err error
		switch layer {
		case LayerPhy:
			err = s.openTraces(layer, phyTraceHeader)
		case LayerMac:
			err = s.openTraces(layer, macTraceHeader)
		case LayerRlc, LayerPdcp:
			err = s.openStats(layer)
		default:
			err = fmt.Errorf("unknown layer %d", layer)
		}
		if err != nil {
			return fmt.Errorf("%w: enable %s traces: %w", ErrTelemetry, layer, err)
		}
	}
	return nil
}

func (s *Simulator) openTraces(layer Layer, header string) error {
	if s.traces == nil {
		s.traces = &traceSet{files: make(map[traceKey]*traceFile)}
	}
	for _, dir := range []Direction{Downlink, Uplink} {
		key := traceKey{layer: layer, dir: dir}
		if _, ok := s.traces.files[key]; ok {
			continue
		}
		tf, err := createTraceFile(filepath.Join(s.outputDir, TraceFileName(layer, dir)), header)
		if err != nil {
			return err
		}
		s.traces.files[key] = tf
	}
	return nil
}

// tracePdu writes one transport block to the PHY or MAC trace.
func (s *Simulator) tracePdu(layer Layer, dir Direction, now time.Duration, enb *simNode, ue *ueState, size uint32) {
	if s.traces == nil {
		return
	}
	tf, ok := s.traces.files[traceKey{layer: layer, dir: dir}]
	if !ok {
		return
	}
	ms := now.Milliseconds()
	var err error
	switch layer {
	case LayerPhy:
		err = tf.printf("%d\t%d\t%d\t%d\t%d\t%d\n", ms, enb.enb.cellID, ue.imsi, ue.rnti, 0, size)
	case LayerMac:
		frame, subframe := ms/10+1, ms%10+1
		err = tf.printf("%d\t%d\t%d\t%d\t%d\t%d\t%d\n", ms, enb.enb.cellID, ue.imsi, frame, subframe, ue.rnti, size)
	}
	s.noteSinkErr(err)
}

func (t *traceSet) Flush() error {
	var errs []error
	for _, tf := range t.files {
		errs = append(errs, tf.Flush())
	}
	return errors.Join(errs...)
}

func (t *traceSet) Close() error {
	var errs []error
	for _, tf := range t.files {
		errs = append(errs, tf.Close())
	}
	return errors.Join(errs...)
}
