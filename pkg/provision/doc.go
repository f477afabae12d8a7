// Package provision reaches running catlets over SSH.
//
// SSHCommunicator reports when a catlet accepts SSH sessions, which the
// orchestrator uses to wait for first boot to finish. ScriptProvisioner
// uploads shell scripts over SFTP and runs them, optionally under sudo.
// Both dial through a Dialer so tests can substitute the transport.
package provision
