package version

// Version is the current version of meshcall.
// Release builds override it with:
//   go build -ldflags="-X 'github.com/BioHazard786/meshcall/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent identifies this build to remote participants.
func UserAgent() string {
	return "meshcall/" + Version
}
