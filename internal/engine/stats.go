package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const statsHeader = "% start\tend\tCellId\tIMSI\tRNTI\tLCID\tnTxPDUs\tTxBytes\tnRxPDUs\tRxBytes\tdelay\tstdDev\tmin\tmax\tPduSize\tstdDev\tmin\tmax\n"

type statsKey struct {
	imsi uint64
	lcid uint8
}

type statsEntry struct {
	cellID  uint16
	rnti    uint16
	txPdus  uint64
	txBytes uint64
	rxPdus  uint64
	rxBytes uint64
	delays  []float64
	sizes   []float64
}

// StatsRow is one aggregated line of an RLC or PDCP statistics file.
type StatsRow struct {
	Direction Direction
	Start     time.Duration
	End       time.Duration
	CellID    uint16
	IMSI      uint64
	RNTI      uint16
	LCID      uint8
	TxPDUs    uint64
	TxBytes   uint64
	RxPDUs    uint64
	RxBytes   uint64
	Delay     SampleSummary
	PduSize   SampleSummary
}

// SampleSummary holds mean, standard deviation, minimum and maximum of a sample.
type SampleSummary struct {
	Mean, StdDev, Min, Max float64
}

func summarize(x []float64) SampleSummary {
	if len(x) == 0 {
		return SampleSummary{}
	}
	out := SampleSummary{Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		out.Mean = x[0]
		return out
	}
	out.Mean, out.StdDev = stat.MeanStdDev(x, nil)
	return out
}

// layerStats aggregates RLC or PDCP PDUs per (IMSI, LCID) over fixed epochs.
type layerStats struct {
	layer      Layer
	epoch      time.Duration
	epochStart time.Duration
	files      map[Direction]*traceFile
	entries    map[Direction]map[statsKey]*statsEntry
	rows       []StatsRow
}

func (s *Simulator) openStats(layer Layer) error {
	if _, ok := s.stats[layer]; ok {
		return nil
	}
	st := &layerStats{
		layer:   layer,
		epoch:   DefaultStatsEpoch,
		files:   make(map[Direction]*traceFile),
		entries: map[Direction]map[statsKey]*statsEntry{Downlink: {}, Uplink: {}},
	}
	for _, dir := range []Direction{Downlink, Uplink} {
		tf, err := createTraceFile(filepath.Join(s.outputDir, TraceFileName(layer, dir)), statsHeader)
		if err != nil {
			_ = st.Close()
			return err
		}
		st.files[dir] = tf
	}
	s.stats[layer] = st
	return nil
}

// SetStatsEpoch sets the aggregation period of RLC or PDCP statistics. The
// layer's traces must already be enabled.
func (s *Simulator) SetStatsEpoch(layer Layer, epoch time.Duration) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if layer != LayerRlc && layer != LayerPdcp {
		return fmt.Errorf("%w: %s has no statistics epoch", ErrInvalidAttribute, layer)
	}
	if epoch <= 0 {
		return fmt.Errorf("%w: epoch %s", ErrInvalidAttribute, epoch)
	}
	st, ok := s.stats[layer]
	if !ok {
		return fmt.Errorf("%w: %s traces not enabled", ErrBuildOrder, layer)
	}
	st.epoch = epoch
	return nil
}

// StatsEpoch returns the aggregation period of a statistics layer.
func (s *Simulator) StatsEpoch(layer Layer) (time.Duration, bool) {
	st, ok := s.stats[layer]
	if !ok {
		return 0, false
	}
	return st.epoch, true
}

// StatsRows returns every row written so far for a layer.
func (s *Simulator) StatsRows(layer Layer) []StatsRow {
	st, ok := s.stats[layer]
	if !ok {
		return nil
	}
	return append([]StatsRow(nil), st.rows...)
}

func (s *Simulator) startStats() {
	for _, layer := range []Layer{LayerRlc, LayerPdcp} {
		st, ok := s.stats[layer]
		if !ok {
			continue
		}
		var tick func()
		tick = func() {
			s.noteSinkErr(st.flush(s.Now()))
			s.after(st.epoch, tick)
		}
		s.after(st.epoch, tick)
	}
}

func (s *Simulator) flushStats(end time.Duration) {
	for _, layer := range []Layer{LayerRlc, LayerPdcp} {
		if st, ok := s.stats[layer]; ok {
			s.noteSinkErr(st.flush(end))
		}
	}
}

func (s *Simulator) statsTx(layer Layer, dir Direction, enb *simNode, ue *ueState, pkt *packet, size uint32) {
	st, ok := s.stats[layer]
	if !ok {
		return
	}
	e := st.entry(dir, statsKey{imsi: ue.imsi, lcid: pkt.lcid})
	e.cellID, e.rnti = enb.enb.cellID, ue.rnti
	e.txPdus++
	e.txBytes += uint64(size)
}

func (s *Simulator) statsRx(layer Layer, dir Direction, enb *simNode, ue *ueState, pkt *packet, size uint32, delay time.Duration) {
	st, ok := s.stats[layer]
	if !ok {
		return
	}
	e := st.entry(dir, statsKey{imsi: ue.imsi, lcid: pkt.lcid})
	e.cellID, e.rnti = enb.enb.cellID, ue.rnti
	e.rxPdus++
	e.rxBytes += uint64(size)
	e.delays = append(e.delays, delay.Seconds())
	e.sizes = append(e.sizes, float64(size))
}

func (st *layerStats) entry(dir Direction, key statsKey) *statsEntry {
	e, ok := st.entries[dir][key]
	if !ok {
		e = &statsEntry{}
		st.entries[dir][key] = e
	}
	return e
}

// flush writes one row per (IMSI, LCID) active since the last flush and
// starts a new epoch at end.
func (st *layerStats) flush(end time.Duration) error {
	if end <= st.epochStart {
		return nil
	}
	var errs []error
	for _, dir := range []Direction{Downlink, Uplink} {
		keys := make([]statsKey, 0, len(st.entries[dir]))
		for k := range st.entries[dir] {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].imsi != keys[j].imsi {
				return keys[i].imsi < keys[j].imsi
			}
			return keys[i].lcid < keys[j].lcid
		})
		for _, k := range keys {
			e := st.entries[dir][k]
			row := StatsRow{
				Direction: dir,
				Start:     st.epochStart,
				End:       end,
				CellID:    e.cellID,
				IMSI:      k.imsi,
				RNTI:      e.rnti,
				LCID:      k.lcid,
				TxPDUs:    e.txPdus,
				TxBytes:   e.txBytes,
				RxPDUs:    e.rxPdus,
				RxBytes:   e.rxBytes,
				Delay:     summarize(e.delays),
				PduSize:   summarize(e.sizes),
			}
			st.rows = append(st.rows, row)
			errs = append(errs, st.files[dir].printf("%.3f\t%.3f\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%g\t%g\t%g\t%g\t%g\t%g\t%g\t%g\n",
				row.Start.Seconds(), row.End.Seconds(), row.CellID, row.IMSI, row.RNTI, row.LCID,
				row.TxPDUs, row.TxBytes, row.RxPDUs, row.RxBytes,
				row.Delay.Mean, row.Delay.StdDev, row.Delay.Min, row.Delay.Max,
				row.PduSize.Mean, row.PduSize.StdDev, row.PduSize.Min, row.PduSize.Max))
		}
		st.entries[dir] = make(map[statsKey]*statsEntry)
		errs = append(errs, st.files[dir].Flush())
	}
	st.epochStart = end
	return errors.Join(errs...)
}

func (st *layerStats) Close() error {
	var errs []error
	for _, tf := range st.files {
		errs = append(errs, tf.Close())
	}
	return errors.Join(errs...)
}
