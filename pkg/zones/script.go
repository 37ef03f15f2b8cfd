package zones

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// DefaultBrand is used when a configuration document names none.
const DefaultBrand = "lipkg"

// safeValueRe constrains values interpolated into zonecfg scripts. The
// script travels to zonecfg as one semicolon-separated argument, so a
// value carrying a separator would smuggle in extra commands.
var safeValueRe = regexp.MustCompile(`^[A-Za-z0-9_./:@-]+$`)

func safeValue(field, v string) (string, error) {
	if v == "" || !safeValueRe.MatchString(v) {
		return "", fmt.Errorf("%s value %q is not usable in a zonecfg script", field, v)
	}
	return v, nil
}

// DatasetForZonepath maps a zonepath to the ZFS dataset backing it, by
// the host convention that datasets mount at their own name: /zones/vm-a
// is backed by zones/vm-a. Artifact extraction receives this dataset.
func DatasetForZonepath(zonepath string) string {
	return strings.TrimPrefix(path.Clean(zonepath), "/")
}

// CreateScript renders the zonecfg command sequence that realizes a
// configuration document as a new zone in state configured. Network
// entries without a physical link are provisioning metadata only and
// produce no net resource.
func CreateScript(name string, cfg *types.ZoneConfiguration) (string, error) {
	if !types.ValidZoneName(name) {
		return "", fmt.Errorf("invalid zone name %q", name)
	}
	brand := cfg.Brand
	if brand == "" {
		brand = DefaultBrand
	}
	brand, err := safeValue("brand", brand)
	if err != nil {
		return "", err
	}
	zonepath := cfg.Zonepath
	if zonepath == "" {
		zonepath = "/zones/" + name
	}
	zonepath, err = safeValue("zonepath", zonepath)
	if err != nil {
		return "", err
	}

	cmds := []string{
		"create -b",
		"set brand=" + brand,
		"set zonepath=" + zonepath,
		fmt.Sprintf("set autoboot=%t", cfg.Autoboot),
	}
	net, err := netCommands(cfg.Networks)
	if err != nil {
		return "", err
	}
	if len(net) > 0 {
		cmds = append(cmds, "set ip-type=exclusive")
		cmds = append(cmds, net...)
	}
	cmds = append(cmds, resourceCommands(cfg, false)...)
	cmds = append(cmds, "commit")
	return strings.Join(cmds, "; "), nil
}

// ModifyScript renders the zonecfg command sequence that reconciles an
// existing zone with a configuration document. Brand and zonepath are
// immutable after creation and are ignored. Resources the document
// carries are rebuilt wholesale so the script stays idempotent.
func ModifyScript(cfg *types.ZoneConfiguration) (string, error) {
	cmds := []string{fmt.Sprintf("set autoboot=%t", cfg.Autoboot)}
	net, err := netCommands(cfg.Networks)
	if err != nil {
		return "", err
	}
	if len(net) > 0 {
		cmds = append(cmds, "remove -F net")
		cmds = append(cmds, net...)
	}
	cmds = append(cmds, resourceCommands(cfg, true)...)
	cmds = append(cmds, "commit")
	return strings.Join(cmds, "; "), nil
}

func netCommands(networks []types.ZoneNetwork) ([]string, error) {
	var cmds []string
	for _, n := range networks {
		if n.Physical == "" {
			continue
		}
		phys, err := safeValue("network physical", n.Physical)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, "add net", "set physical="+phys)
		if n.IP != "" {
			addr, err := safeValue("network ip", n.IP)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, "set allowed-address="+addr)
		}
		if n.Gateway != "" {
			gw, err := safeValue("network gateway", n.Gateway)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, "set defrouter="+gw)
		}
		cmds = append(cmds, "end")
	}
	return cmds, nil
}

func resourceCommands(cfg *types.ZoneConfiguration, rebuild bool) []string {
	var cmds []string
	if cfg.CPUs > 0 {
		if rebuild {
			cmds = append(cmds, "remove -F dedicated-cpu")
		}
		cmds = append(cmds, "add dedicated-cpu", fmt.Sprintf("set ncpus=%d", cfg.CPUs), "end")
	}
	if cfg.MemoryMB > 0 {
		if rebuild {
			cmds = append(cmds, "remove -F capped-memory")
		}
		cmds = append(cmds, "add capped-memory", fmt.Sprintf("set physical=%dm", cfg.MemoryMB), "end")
	}
	return cmds
}
