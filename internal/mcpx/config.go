// config.go — MCP 服务器清单 (YAML)。
//
// 支持两种等价写法:
//
//	servers:                      mcpServers:
//	  - name: math                  math:
//	    url: http://...               url: http://...
//
// 列表形式保留声明顺序; map 形式按服务器名排序, 保证工具目录稳定。
package mcpx

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
)

// ServerConfig 单个 MCP 服务器的连接配置。
type ServerConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type serversFile struct {
	Servers    []ServerConfig          `yaml:"servers"`
	MCPServers map[string]ServerConfig `yaml:"mcpServers"`
}

// LoadServers 读取 MCP 服务器清单。
func LoadServers(path string) ([]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "mcpx.LoadServers", "read %s", path)
	}
	return parseServers(raw)
}

func parseServers(raw []byte) ([]ServerConfig, error) {
	var file serversFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, apperrors.Wrap(err, "mcpx.parseServers", "parse yaml")
	}

	var cfgs []ServerConfig
	switch {
	case len(file.Servers) > 0:
		cfgs = file.Servers
	case len(file.MCPServers) > 0:
		names := make([]string, 0, len(file.MCPServers))
		for name := range file.MCPServers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := file.MCPServers[name]
			c.Name = name
			cfgs = append(cfgs, c)
		}
	default:
		return nil, apperrors.New("mcpx.parseServers", "no servers defined (want servers: or mcpServers:)")
	}

	for i, c := range cfgs {
		if strings.TrimSpace(c.Name) == "" {
			return nil, apperrors.Newf("mcpx.parseServers", "server #%d: name is required", i+1)
		}
		if strings.Contains(c.Name, ".") {
			return nil, apperrors.Newf("mcpx.parseServers", "server %q: name must not contain '.'", c.Name)
		}
		if strings.TrimSpace(c.URL) == "" {
			return nil, apperrors.Newf("mcpx.parseServers", "server %q: url is required", c.Name)
		}
	}
	return cfgs, nil
}

// SplitFQN 把全限定工具名 <server>.<tool> 按第一个 '.' 拆开。
// 工具自身的名字可以再含 '.' (如 math.add 属于服务器 calc 时 FQN 为
// calc.math.add)。
func SplitFQN(fqn string) (server, tool string, err error) {
	server, tool, ok := strings.Cut(fqn, ".")
	if !ok || server == "" || tool == "" {
		return "", "", apperrors.Wrapf(apperrors.ErrInvalidInput, "mcpx.SplitFQN",
			"malformed tool name %q (want <server>.<tool>)", fqn)
	}
	return server, tool, nil
}
