// Package loader builds the region table of a machine from a memory
// configuration file and loads program images into it.
package loader

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"

	"github.com/athrill-go/athrill/pkg/logflags"
	"github.com/athrill-go/athrill/pkg/mpu"
)

// RegionConfig describes one region of the memory configuration.
type RegionConfig struct {
	// Kind is one of rom, ram, device or malloc.
	Kind  string `yaml:"kind"`
	Start uint32 `yaml:"start"`
	// Size is in KB.
	Size uint32 `yaml:"size"`
	// Permission is a core mask, every core when unset.
	Permission *uint64 `yaml:"permission,omitempty"`
	Executable bool    `yaml:"executable,omitempty"`
	// MMap backs a ram region with a shared file mapping.
	MMap string `yaml:"mmap,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// MemoryConfig is the memory configuration of a machine.
type MemoryConfig struct {
	Cores   int            `yaml:"cores,omitempty"`
	Regions []RegionConfig `yaml:"regions"`
}

// LoadMemoryConfig reads the memory configuration at path.
func LoadMemoryConfig(path string) (*MemoryConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mc, err := ParseMemoryConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return mc, nil
}

// ParseMemoryConfig decodes a YAML memory configuration.
func ParseMemoryConfig(data []byte) (*MemoryConfig, error) {
	var mc MemoryConfig
	if err := yaml.UnmarshalStrict(data, &mc); err != nil {
		return nil, err
	}
	for i, rc := range mc.Regions {
		if _, err := parseKind(rc.Kind); err != nil {
			return nil, fmt.Errorf("region %d: %v", i, err)
		}
		if rc.Size == 0 {
			return nil, fmt.Errorf("region %d: size must be positive", i)
		}
		if uint64(rc.Size)*1024 > 1<<32 {
			return nil, fmt.Errorf("region %d: size %dKB too large", i, rc.Size)
		}
		if rc.MMap != "" && rc.Kind != "ram" {
			return nil, fmt.Errorf("region %d: only ram regions can be mapped to a file", i)
		}
	}
	return &mc, nil
}

func parseKind(s string) (mpu.RegionKind, error) {
	switch s {
	case "rom":
		return mpu.ROM, nil
	case "ram":
		return mpu.RAM, nil
	case "device":
		return mpu.Device, nil
	case "malloc":
		return mpu.MallocPool, nil
	}
	return 0, fmt.Errorf("unknown region kind %q", s)
}

// Populate adds the configured regions to tbl.
func (mc *MemoryConfig) Populate(tbl *mpu.Table) error {
	log := logflags.LoaderLogger()
	for _, rc := range mc.Regions {
		kind, _ := parseKind(rc.Kind)
		perm := mpu.AllCores
		if rc.Permission != nil {
			perm = *rc.Permission
		}
		size := rc.Size * 1024
		var r *mpu.Region
		if rc.MMap != "" {
			var err error
			r, err = mpu.NewFileRegion(kind, rc.Start, size, perm, rc.MMap)
			if err != nil {
				return err
			}
		} else {
			r = mpu.NewRegion(kind, rc.Start, size, perm)
		}
		r.Executable = rc.Executable
		r.Name = rc.Name
		if err := tbl.AddRegion(r); err != nil {
			r.Close()
			return err
		}
		log.Debugf("%s region %#x size %dKB perm %#x", rc.Kind, rc.Start, rc.Size, perm)
	}
	return nil
}
