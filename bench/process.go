package bench

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/koder-ua/network-ping-test/env"
)

type MachineInfo struct {
	CPUModelName string
	CPUMHz       float64
	CPUCores     int

	MemBytes uint64

	TCPMaxSynBacklog uint64
	SoMaxConn        uint64
	FileMax          uint64

	// Ephemeral port range, which bounds connections per source address.
	PortRangeLow  uint64
	PortRangeHigh uint64
}

type procFunc map[string]func(string, *MachineInfo)

var (
	processMachineInfo *MachineInfo

	cpuFuncs = procFunc{"processor": func(value string, mi *MachineInfo) {
		if num, err := strconv.Atoi(value); err == nil && mi.CPUCores <= num {
			mi.CPUCores = num + 1
		}
	},
		"model name": func(value string, mi *MachineInfo) {
			mi.CPUModelName = value
		},
		"cpu MHz": func(value string, mi *MachineInfo) {
			if num, err := strconv.ParseFloat(value, 64); err == nil {
				mi.CPUMHz = num
			}
		}}

	memFuncs = procFunc{"MemTotal": func(value string, mi *MachineInfo) {
		if !strings.HasSuffix(value, " kB") {
			return
		}
		if kb, err := strconv.ParseUint(value[0:len(value)-3], 10, 64); err == nil {
			mi.MemBytes = kb * 1024
		}
	}}

	processOnce sync.Once
)

func ProcessMachineInfo() *MachineInfo {
	processOnce.Do(func() {
		processMachineInfo = readMachineInfo()
	})
	return processMachineInfo
}

// PortsPerAddress is the number of ephemeral ports available to one
// source address, or 0 when unknown.
func (mi *MachineInfo) PortsPerAddress() uint64 {
	if mi.PortRangeHigh < mi.PortRangeLow || mi.PortRangeHigh == 0 {
		return 0
	}
	return mi.PortRangeHigh - mi.PortRangeLow + 1
}

func (mi *MachineInfo) String() string {
	return fmt.Sprintf("%d x %s @ %.0fMHz, %d MiB, file-max %d, somaxconn %d, syn-backlog %d, ports %d-%d",
		mi.CPUCores, mi.CPUModelName, mi.CPUMHz, mi.MemBytes>>20, mi.FileMax,
		mi.SoMaxConn, mi.TCPMaxSynBacklog, mi.PortRangeLow, mi.PortRangeHigh)
}

func readMachineInfo() *MachineInfo {
	var mi MachineInfo
	readProcKeyValues("/proc/cpuinfo", &mi, cpuFuncs)
	readProcKeyValues("/proc/meminfo", &mi, memFuncs)
	readProcFileUint64("/proc/sys/net/ipv4/tcp_max_syn_backlog", &mi.TCPMaxSynBacklog)
	readProcFileUint64("/proc/sys/net/core/somaxconn", &mi.SoMaxConn)
	readProcFileUint64("/proc/sys/fs/file-max", &mi.FileMax)
	if b, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range"); err != nil {
		env.Print("Could not read port range: ", err)
	} else if err := parsePortRange(b, &mi); err != nil {
		env.Print("Could not parse port range '", string(b), "': ", err)
	}
	return &mi
}

func readProcKeyValues(path string, mi *MachineInfo, pf procFunc) {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		err = scanProcKeyValues(f, mi, ":", pf)
	}
	if err != nil {
		env.Print("Could not read ", path, ": ", err)
	}
}

func scanProcKeyValues(f io.Reader, mi *MachineInfo, sep string, pf procFunc) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kv := strings.SplitN(scanner.Text(), sep, 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if kf, ok := pf[key]; ok {
			kf(val, mi)
		}
	}
	return scanner.Err()
}

func readProcFileUint64(path string, p *uint64) {
	b, err := os.ReadFile(path)
	if err != nil {
		env.Print("Could not read ", path, ": ", err)
		return
	}
	if err := parseProcFileUint64(b, p); err != nil {
		env.Print("Could not parse in ", path, ": '", string(b), "': ", err)
	}
}

func parseProcFileUint64(b []byte, p *uint64) error {
	ui, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return err
	}
	*p = ui
	return nil
}

func parsePortRange(b []byte, mi *MachineInfo) error {
	f := strings.Fields(string(b))
	if len(f) != 2 {
		return fmt.Errorf("expected two fields, got %d", len(f))
	}
	if err := parseProcFileUint64([]byte(f[0]), &mi.PortRangeLow); err != nil {
		return err
	}
	return parseProcFileUint64([]byte(f[1]), &mi.PortRangeHigh)
}
