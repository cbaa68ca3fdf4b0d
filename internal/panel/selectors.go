package panel

// Control panel URLs and DOM selectors.
// These are isolated here because the panel UI changes between builds.
// Update these when login or renewal breaks.

const (
	DefaultServerURL = "https://hub.weirdhost.xyz/server/d341874c"
	DefaultLoginURL  = "https://hub.weirdhost.xyz/auth/login"

	// Any URL under the server area means the login went through
	ServerAreaGlob = "**/server/**"
)

const (
	// Login form: fields are taken by order of appearance, not name
	LoginInput      = `input`
	ConsentCheckbox = `input[type="checkbox"]`
	SubmitButton    = `button[type="submit"]`
)

// Renewal control labels, in the order they are tried
const (
	LabelLocalized = "시간 추가"
	LabelEnglish   = "Add Time"
)

// Screenshot file names for each diagnostic path
const (
	ShotLoginInputs = "login_inputs_not_found.png"
	ShotNoButton    = "no_button_found.png"
	ShotError       = "error_screenshot.png"
)
