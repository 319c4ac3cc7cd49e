// Package toolchain drives the external firmware tools: the PlatformIO build, the
// ESP-IDF NVS partition generator and esptool.
//
// Each tool is wrapped behind the interfaces package collaborator it serves
// (Builder, ImageGenerator, Flasher) and runs through a CommandRunner, so tests can
// record the argument vectors instead of spawning processes. ExecRunner streams the
// tool output to the operator line by line, the way esptool progress is normally
// watched from a terminal.
//
// Tool locations are passed in explicitly; nothing is read from IDF_PATH or other
// environment variables.
package toolchain
