package collectors

import (
	"context"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// run executes one host utility under the configured collection timeout.
func (s *Service) run(ctx context.Context, name string, args ...string) (string, error) {
	return hostcmd.Output(ctx, s.runner, s.cfg.CommandTimeout(), name, args...)
}

// collectNetworkConfig snapshots the datalink layer: links merged with
// physical and VNIC attributes, plus IP addresses, the routing table and
// the extended-accounting flag.
func (s *Service) collectNetworkConfig(ctx context.Context) error {
	linksOut, err := s.run(ctx, "dladm", "show-link", "-p", "-o", "link,class,mtu,state,over")
	if err != nil {
		return err
	}
	physOut, err := s.run(ctx, "dladm", "show-phys", "-p", "-o", "link,speed,duplex,media,device")
	if err != nil {
		return err
	}
	vnicOut, err := s.run(ctx, "dladm", "show-vnic", "-p", "-o", "link,over,speed,macaddress,macaddrtype,vid,zone")
	if err != nil {
		return err
	}

	now := s.now().UTC()
	links, index := s.parseLinks(linksOut, now)
	s.mergePhys(links, index, physOut)
	s.mergeVNICs(links, index, vnicOut)
	if err := s.store.ReplaceNetworkInterfaces(ctx, s.host, links); err != nil {
		return err
	}

	addrsOut, err := s.run(ctx, "ipadm", "show-addr", "-p", "-o", "addrobj,type,state,addr")
	if err != nil {
		return err
	}
	if err := s.store.ReplaceIPAddresses(ctx, s.host, s.parseAddrs(addrsOut, now)); err != nil {
		return err
	}

	routesOut, err := s.run(ctx, "netstat", "-rn")
	if err != nil {
		return err
	}
	if err := s.store.ReplaceRoutes(ctx, s.host, s.parseRoutes(routesOut, now)); err != nil {
		return err
	}

	// Extended link accounting is informational; a missing acctadm must not
	// fail the whole snapshot.
	acctOut, err := s.run(ctx, "acctadm", "net")
	if err != nil {
		s.logger.Debug().Err(err).Msg("Network accounting state unavailable")
		return nil
	}
	if err := s.store.SetNetworkAccounting(ctx, s.host, parseNetAccounting(acctOut)); err != nil {
		return err
	}
	return nil
}

// parseLinks decodes `dladm show-link -p`. Returns the rows in output order
// plus an index by link name for the phys and vnic merges.
func (s *Service) parseLinks(out string, now time.Time) ([]types.NetworkInterface, map[string]int) {
	lines := parse.Lines(out)
	rows := make([]types.NetworkInterface, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		fields := parse.SplitColon(line)
		if len(fields) != 5 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed show-link record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping show-link header row")
			continue
		}
		mtu, err := parse.Counter(fields[2])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping show-link record with non-numeric mtu")
			continue
		}
		over := fields[4]
		if parse.IsAbsent(over) {
			over = ""
		}
		index[fields[0]] = len(rows)
		rows = append(rows, types.NetworkInterface{
			Host:          s.host,
			Link:          fields[0],
			Class:         fields[1],
			MTU:           mtu,
			State:         fields[3],
			Over:          over,
			ScanTimestamp: now,
		})
	}
	return rows, index
}

// mergePhys overlays physical attributes onto the link snapshot.
func (s *Service) mergePhys(rows []types.NetworkInterface, index map[string]int, out string) {
	for _, line := range parse.Lines(out) {
		fields := parse.SplitColon(line)
		if len(fields) != 5 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed show-phys record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping show-phys header row")
			continue
		}
		i, ok := index[fields[0]]
		if !ok {
			s.logger.Debug().Str("link", fields[0]).Msg("show-phys names a link absent from show-link")
			continue
		}
		speed, _, err := parse.OptionalCounter(fields[1])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping show-phys record with non-numeric speed")
			continue
		}
		rows[i].SpeedMbps = speed
		rows[i].Duplex = fields[2]
		rows[i].Media = fields[3]
		rows[i].Device = fields[4]
	}
}

// mergeVNICs overlays VNIC attributes onto the link snapshot. MAC addresses
// arrive with escaped colons; SplitColon has already unescaped them.
func (s *Service) mergeVNICs(rows []types.NetworkInterface, index map[string]int, out string) {
	for _, line := range parse.Lines(out) {
		fields := parse.SplitColon(line)
		if len(fields) != 7 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed show-vnic record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping show-vnic header row")
			continue
		}
		i, ok := index[fields[0]]
		if !ok {
			s.logger.Debug().Str("link", fields[0]).Msg("show-vnic names a link absent from show-link")
			continue
		}
		speed, _, err := parse.OptionalCounter(fields[2])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping show-vnic record with non-numeric speed")
			continue
		}
		vid, _, err := parse.OptionalCounter(fields[5])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping show-vnic record with non-numeric vid")
			continue
		}
		if rows[i].Over == "" && !parse.IsAbsent(fields[1]) {
			rows[i].Over = fields[1]
		}
		if speed > 0 {
			rows[i].SpeedMbps = speed
		}
		rows[i].MACAddress = fields[3]
		rows[i].MACAddrType = fields[4]
		rows[i].VID = vid
		if !parse.IsAbsent(fields[6]) {
			rows[i].Zone = fields[6]
		}
	}
}

// parseAddrs decodes `ipadm show-addr -p`. The interface is the addrobj up
// to the slash; v6 addresses carry escaped colons that SplitColon unescapes.
func (s *Service) parseAddrs(out string, now time.Time) []types.IPAddress {
	lines := parse.Lines(out)
	rows := make([]types.IPAddress, 0, len(lines))
	for _, line := range lines {
		fields := parse.SplitColon(line)
		if len(fields) != 4 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed show-addr record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping show-addr header row")
			continue
		}
		iface := fields[0]
		if i := strings.IndexByte(iface, '/'); i >= 0 {
			iface = iface[:i]
		}
		rows = append(rows, types.IPAddress{
			Host:          s.host,
			AddrObj:       fields[0],
			Interface:     iface,
			Type:          fields[1],
			State:         fields[2],
			Addr:          fields[3],
			ScanTimestamp: now,
		})
	}
	return rows
}

// parseRoutes decodes `netstat -rn`, which has no parseable mode: banner,
// header and separator lines are skipped by shape and keyword.
func (s *Service) parseRoutes(out string, now time.Time) []types.Route {
	lines := parse.Lines(out)
	rows := make([]types.Route, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if parse.IsHeaderField(fields[0]) || strings.HasPrefix(fields[0], "---") {
			continue
		}
		row := types.Route{
			Host:          s.host,
			Destination:   fields[0],
			Gateway:       fields[1],
			Flags:         fields[2],
			ScanTimestamp: now,
		}
		if len(fields) >= 5 {
			ref, _, err := parse.OptionalCounter(fields[3])
			if err != nil {
				s.logger.Debug().Str("line", line).Msg("skipping route with non-numeric ref")
				continue
			}
			use, _, err := parse.OptionalCounter(fields[4])
			if err != nil {
				s.logger.Debug().Str("line", line).Msg("skipping route with non-numeric use")
				continue
			}
			row.Ref = ref
			row.Use = use
		}
		if len(fields) >= 6 {
			row.Interface = fields[5]
		}
		rows = append(rows, row)
	}
	return rows
}

// parseNetAccounting reports whether `acctadm net` shows active accounting.
func parseNetAccounting(out string) bool {
	for _, line := range parse.Lines(out) {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "Net accounting:")
		if !ok {
			continue
		}
		return strings.TrimSpace(rest) == "active"
	}
	return false
}

// usageSample holds the byte counters of the previous usage sample for one
// link.
type usageSample struct {
	rbytes int64
	obytes int64
	at     time.Time
}

// collectNetworkUsage samples cumulative link counters and derives
// per-interval rates against the previous in-memory sample. Truncated link
// names are re-attributed to the full link when the current interface
// snapshot resolves them unambiguously.
func (s *Service) collectNetworkUsage(ctx context.Context) error {
	out, err := s.run(ctx, "dladm", "show-link", "-s", "-p", "-o",
		"link,ipackets,rbytes,ierrors,opackets,obytes,oerrors")
	if err != nil {
		return err
	}

	known, speeds := s.linkIndex(ctx)
	now := s.now().UTC()

	lines := parse.Lines(out)
	rows := make([]types.NetworkUsage, 0, len(lines))
	for _, line := range lines {
		fields := parse.SplitColon(line)
		if len(fields) != 7 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed usage record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping usage legend row")
			continue
		}
		var counters [6]int64
		bad := false
		for i, f := range fields[1:] {
			v, err := parse.Counter(f)
			if err != nil {
				s.logger.Debug().Str("line", line).Str("field", f).Msg("skipping usage record with bad counter")
				bad = true
				break
			}
			counters[i] = v
		}
		if bad {
			continue
		}

		link := fields[0]
		if len(known) > 0 {
			if full := parse.ResolveTruncated(link, known); full != "" {
				link = full
			}
		}

		row := types.NetworkUsage{
			Host:          s.host,
			Link:          link,
			IPackets:      counters[0],
			RBytes:        counters[1],
			IErrors:       counters[2],
			OPackets:      counters[3],
			OBytes:        counters[4],
			OErrors:       counters[5],
			ScanTimestamp: now,
		}
		if prev, ok := s.prevUsage[link]; ok {
			age := now.Sub(prev.at)
			if deltaWindowMet(age, interval(s.cfg.NetworkUsageIntervalSeconds, 30)) {
				dt := age.Seconds()
				rd := counterDelta(row.RBytes, prev.rbytes)
				od := counterDelta(row.OBytes, prev.obytes)
				row.RBytesDelta = &rd
				row.OBytesDelta = &od
				row.TimeDeltaSec = finite(dt)
				row.RxBps = ratePerSecond(rd, dt)
				row.TxBps = ratePerSecond(od, dt)
				if row.RxBps != nil {
					row.RxMbps = megabitsPerSecond(*row.RxBps)
				}
				if row.TxBps != nil {
					row.TxMbps = megabitsPerSecond(*row.TxBps)
				}
				row.RxUtilization = utilizationPct(rd, speeds[link], dt)
				row.TxUtilization = utilizationPct(od, speeds[link], dt)
			}
		}
		s.prevUsage[link] = usageSample{rbytes: row.RBytes, obytes: row.OBytes, at: now}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil
	}
	return s.store.InsertNetworkUsage(ctx, rows)
}

// linkIndex loads the current interface snapshot as a name list for
// truncated-name resolution and a speed map for utilization. A read failure
// degrades the derived fields instead of failing the sample.
func (s *Service) linkIndex(ctx context.Context) ([]string, map[string]int64) {
	ifaces, err := s.store.ListNetworkInterfaces(ctx, s.host)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Interface snapshot unavailable for usage correlation")
		return nil, nil
	}
	names := make([]string, 0, len(ifaces))
	speeds := make(map[string]int64, len(ifaces))
	for _, nic := range ifaces {
		names = append(names, nic.Link)
		speeds[nic.Link] = nic.SpeedMbps
	}
	return names, speeds
}
