package support

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/testutil"
)

// scanReport mirrors the JSON written by qrscan scan --format json.
type scanReport struct {
	Results []struct {
		File     string `json:"file"`
		Format   string `json:"format"`
		Text     string `json:"text"`
		Crop     [4]int `json:"crop"`
		Rotation int    `json:"rotation"`
	} `json:"results"`
	Errors []string `json:"errors"`
	Frames int      `json:"frames"`
}

// RegisterScanSteps registers the command line steps.
func (testCtx *TestContext) RegisterScanSteps(sc *godog.ScenarioContext) {
	sc.Step(`^an image "([^"]*)" containing the QR code "([^"]*)"$`, testCtx.anImageContainingTheQRCode)
	sc.Step(`^an image "([^"]*)" without a code$`, testCtx.anImageWithoutACode)
	sc.Step(`^a rotated image "([^"]*)" containing the QR code "([^"]*)"$`, testCtx.aRotatedImageContaining)
	sc.Step(`^a raw NV21 capture "([^"]*)" containing the QR code "([^"]*)"$`, testCtx.aRawNV21Capture)
	sc.Step(`^I run "([^"]*)"$`, testCtx.RunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail with "([^"]*)"$`, testCtx.theCommandShouldFailWith)
	sc.Step(`^the output should be "([^"]*)"$`, testCtx.theOutputShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the report should contain (\d+) results? from (\d+) frames?$`, testCtx.theReportShouldContain)
	sc.Step(`^result (\d+) should have the text "([^"]*)"$`, testCtx.resultShouldHaveText)
	sc.Step(`^result (\d+) should have the crop "([^"]*)"$`, testCtx.resultShouldHaveCrop)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}

func (testCtx *TestContext) anImageContainingTheQRCode(name, payload string) error {
	return testCtx.writeScene(name, testutil.DefaultSceneConfig(payload))
}

func (testCtx *TestContext) anImageWithoutACode(name string) error {
	return testCtx.writeScene(name, testutil.DefaultSceneConfig(""))
}

// aRotatedImageContaining renders a portrait scene the way a sensor
// mounted at 90 degrees delivers it.
func (testCtx *TestContext) aRotatedImageContaining(name, payload string) error {
	scene := testutil.DefaultSceneConfig(payload)
	scene.Size = testutil.ImageSize{Width: 480, Height: 640}
	scene.Rotation = 90
	return testCtx.writeScene(name, scene)
}

func (testCtx *TestContext) aRawNV21Capture(name, payload string) error {
	img, err := testutil.GenerateScene(testutil.DefaultSceneConfig(payload))
	if err != nil {
		return err
	}
	f, err := frame.FromImage(img, frame.BuildOptions{Layout: frame.LayoutNV21})
	if err != nil {
		return err
	}
	planes := f.Planes()
	data := append(append([]byte{}, planes[0].Data...), planes[2].Data...)
	return os.WriteFile(testCtx.path(name), data, 0o600)
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\nstderr: %s", testCtx.LastCommand, testCtx.LastError, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFailWith(message string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded, expected failure", testCtx.LastCommand)
	}
	if !strings.Contains(testCtx.LastError.Error(), message) {
		return fmt.Errorf("expected error containing %q, got %q", message, testCtx.LastError.Error())
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBe(expected string) error {
	if got := strings.TrimSpace(testCtx.LastOutput); got != expected {
		return fmt.Errorf("expected output %q, got %q", expected, got)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain %q: %s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) report() (*scanReport, error) {
	var r scanReport
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &r); err != nil {
		return nil, fmt.Errorf("output is not a JSON report: %w\n%s", err, testCtx.LastOutput)
	}
	return &r, nil
}

func (testCtx *TestContext) theReportShouldContain(results, frames int) error {
	r, err := testCtx.report()
	if err != nil {
		return err
	}
	if len(r.Results) != results || r.Frames != frames {
		return fmt.Errorf("expected %d results from %d frames, got %d from %d", results, frames, len(r.Results), r.Frames)
	}
	return nil
}

func (testCtx *TestContext) result(n int) (*scanReport, error) {
	r, err := testCtx.report()
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(r.Results) {
		return nil, fmt.Errorf("report has %d results, no result %d", len(r.Results), n)
	}
	return r, nil
}

func (testCtx *TestContext) resultShouldHaveText(n int, text string) error {
	r, err := testCtx.result(n)
	if err != nil {
		return err
	}
	if got := r.Results[n-1].Text; got != text {
		return fmt.Errorf("result %d: expected text %q, got %q", n, text, got)
	}
	return nil
}

func (testCtx *TestContext) resultShouldHaveCrop(n int, crop string) error {
	r, err := testCtx.result(n)
	if err != nil {
		return err
	}
	c := r.Results[n-1].Crop
	if got := fmt.Sprintf("%d,%d,%d,%d", c[0], c[1], c[2], c[3]); got != crop {
		return fmt.Errorf("result %d: expected crop %s, got %s", n, crop, got)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.path(name)) {
		return fmt.Errorf("file %s does not exist", name)
	}
	return nil
}
