package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowSetupGuide writes step-by-step instructions for obtaining API keys
func ShowSetupGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "API KEY SETUP")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 1: Create an application")
	fmt.Fprintln(w, "   - Open the developer portal and create a project and an app")
	fmt.Fprintln(w, "   - Under 'Keys and tokens', copy the API key and API key secret")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 2: Choose how to authenticate")
	fmt.Fprintln(w, "   oauth1  user context; also needs an access token and secret,")
	fmt.Fprintln(w, "           generated on the same page or with 'twigo auth pin'")
	fmt.Fprintln(w, "   oauth2  application only; a bearer token is fetched on demand")
	fmt.Fprintln(w, "   bearer  a fixed bearer token copied from the portal")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 3: Store the keys")
	fmt.Fprintln(w, "   - 'twigo auth login' saves them in the system keychain or an")
	fmt.Fprintln(w, "     encrypted file")
	fmt.Fprintln(w, "   - or export TWIGO_CONSUMER_KEY, TWIGO_CONSUMER_SECRET,")
	fmt.Fprintln(w, "     TWIGO_ACCESS_TOKEN and TWIGO_ACCESS_TOKEN_SECRET")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "WARNING: these keys act on behalf of your account. Never share them.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
