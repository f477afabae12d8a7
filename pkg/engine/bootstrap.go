package engine

import (
	"fmt"
)

// GuestOS is the operating system family of a catlet's parent template.
type GuestOS string

const (
	GuestLinux   GuestOS = "linux"
	GuestWindows GuestOS = "windows"
)

// Default bootstrap credentials.
const (
	DefaultBootstrapUser   = "catlet"
	DefaultLinuxPassword   = "catlet"
	DefaultWindowsPassword = "InitialPassw0rd"
)

// Names of generated fodder items. User fodder with the same name replaces
// the generated item.
const (
	FodderUserSetup        = "catlet-user-setup"
	FodderUserSetupWindows = "catlet-user-setup-windows"
	FodderSSHSetup         = "catlet-ssh-setup"
	FodderWinRMSetup       = "catlet-winrm-setup"
)

// BootstrapOptions controls the auto-generated fodder that creates an access
// user on first boot.
type BootstrapOptions struct {
	Enabled            bool
	OS                 GuestOS
	Username           string
	Password           string
	AuthorizedKeys     []string
	EnableRemoteAccess bool
}

// EffectiveUsername returns the configured user or the default.
func (o BootstrapOptions) EffectiveUsername() string {
	if o.Username != "" {
		return o.Username
	}
	return DefaultBootstrapUser
}

// EffectivePassword returns the configured password or the default for the OS.
func (o BootstrapOptions) EffectivePassword() string {
	if o.Password != "" {
		return o.Password
	}
	if o.OS == GuestWindows {
		return DefaultWindowsPassword
	}
	return DefaultLinuxPassword
}

// BootstrapFodder generates the ordered auto-generated fodder list.
// Disabled bootstrap yields an empty list.
func BootstrapFodder(opts BootstrapOptions) ([]FodderItem, error) {
	if !opts.Enabled {
		return nil, nil
	}

	switch opts.OS {
	case GuestWindows:
		return windowsBootstrap(opts), nil
	case GuestLinux, "":
		return linuxBootstrap(opts), nil
	default:
		return nil, fmt.Errorf("unsupported guest os: %s", opts.OS)
	}
}

func linuxBootstrap(opts BootstrapOptions) []FodderItem {
	user := map[string]any{
		"name":              opts.EffectiveUsername(),
		"sudo":              []any{"ALL=(ALL) NOPASSWD:ALL"},
		"shell":             "/bin/bash",
		"groups":            []any{"adm"},
		"lock_passwd":       false,
		"plain_text_passwd": opts.EffectivePassword(),
	}
	if len(opts.AuthorizedKeys) > 0 {
		user["ssh_authorized_keys"] = stringsToAny(opts.AuthorizedKeys)
	}

	items := []FodderItem{{
		Name: FodderUserSetup,
		Type: FodderCloudConfig,
		Data: map[string]any{"users": []any{user}},
	}}

	if opts.EnableRemoteAccess {
		items = append(items, FodderItem{
			Name: FodderSSHSetup,
			Type: FodderCloudConfig,
			Data: map[string]any{
				"ssh_pwauth": true,
				"runcmd": []any{
					[]any{"systemctl", "enable", "--now", "ssh"},
				},
			},
		})
	}
	return items
}

func windowsBootstrap(opts BootstrapOptions) []FodderItem {
	user := map[string]any{
		"name":   opts.EffectiveUsername(),
		"groups": []any{"Administrators"},
		"passwd": opts.EffectivePassword(),
	}
	if len(opts.AuthorizedKeys) > 0 {
		user["ssh_authorized_keys"] = stringsToAny(opts.AuthorizedKeys)
	}

	items := []FodderItem{{
		Name: FodderUserSetupWindows,
		Type: FodderCloudConfig,
		Data: map[string]any{"users": []any{user}},
	}}

	if opts.EnableRemoteAccess {
		items = append(items, FodderItem{
			Name:    FodderWinRMSetup,
			Type:    FodderShellScript,
			Content: winrmScript,
		})
	}
	return items
}

const winrmScript = `#ps1_sysnative
Enable-PSRemoting -Force -SkipNetworkProfileCheck
Set-Item -Path WSMan:\localhost\Service\Auth\Basic -Value $true
Set-Item -Path WSMan:\localhost\Service\AllowUnencrypted -Value $true
New-NetFirewallRule -DisplayName "WinRM HTTP" -Direction Inbound -LocalPort 5985 -Protocol TCP -Action Allow
Add-WindowsCapability -Online -Name OpenSSH.Server~~~~0.0.1.0
Set-Service -Name sshd -StartupType Automatic
Start-Service sshd
`

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
