// ABOUTME: In-page scripts used by the editor strategies
// ABOUTME: Each script is a function expression evaluated with one argument

package editor

// Selectors tried, in order, to locate the editing surface.
var editorSelectors = []string{
	`.cm-editor`,
	`.CodeMirror`,
	`[data-language="javascript"]`,
	`[contenteditable="true"]`,
	`textarea[data-mode="javascript"]`,
	`.monaco-editor`,
	`textarea`,
}

var playSelectors = []string{
	`button[title*="play"]`,
	`button[aria-label*="play"]`,
	`button[title*="eval"]`,
	`button[aria-label*="eval"]`,
	`button:has(svg[data-icon*="play"])`,
	`button:has([data-icon*="play"])`,
	`.play-button`,
	`.eval-button`,
}

var stopSelectors = []string{
	`button[title*="stop"]`,
	`button[aria-label*="stop"]`,
	`button:has(svg[data-icon*="stop"])`,
	`.stop-button`,
}

var (
	evaluateGlobals = []string{"evalCode", "evaluate", "playPattern", "runCode"}
	stopGlobals     = []string{"hush", "stop", "strudelHush", "stopAll"}
)

// locateScript returns the first matching selector's element summary or null.
const locateScript = `(selectors) => {
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el) {
      return { selector: sel, className: String(el.className || el.tagName.toLowerCase()) };
    }
  }
  return null;
}`

// describeScript gathers the environment fields of browser_ready.
const describeScript = `() => {
  const ctx = window.audioContext || window.strudelAudioContext;
  return {
    url: window.location.href,
    userAgent: navigator.userAgent,
    audioInitialized: !!ctx,
    audioPermissionGranted: !!ctx && ctx.state === 'running',
  };
}`

// detectScript reports whether the page looks like a fully loaded Strudel REPL.
const detectScript = `() => {
  const hasEditor = !!document.querySelector('.cm-editor') && !!document.querySelector('.cm-content');
  const text = (document.body && document.body.textContent || '').toLowerCase();
  const isStrudelSite = document.title.toLowerCase().includes('strudel') || text.includes('strudel');
  const hasInterface = document.querySelectorAll('button').length > 0 && !!document.querySelector('#root, [data-reactroot]');
  const hasAssets = document.querySelectorAll('script[src*="strudel"], script[src*="tidal"]').length > 0 ||
    document.querySelectorAll('[class*="strudel"], [id*="strudel"]').length > 0;
  return hasEditor && isStrudelSite && (hasInterface || hasAssets);
}`

const applyCM6Script = `(code) => {
  const host = document.querySelector('.cm-editor');
  const view = (host && host.cmView && host.cmView.view) || window.cm || window.editor;
  if (!view || !view.state || typeof view.dispatch !== 'function') return false;
  view.dispatch({ changes: { from: 0, to: view.state.doc.length, insert: code } });
  return true;
}`

const applyContentScript = `(code) => {
  const content = document.querySelector('.cm-content');
  if (!content) return false;
  content.textContent = code;
  for (const type of ['input', 'change', 'keyup']) {
    content.dispatchEvent(new Event(type, { bubbles: true }));
  }
  return true;
}`

const applyInsertTextScript = `(code) => {
  const target = document.querySelector('.cm-content') || document.querySelector('[contenteditable="true"]');
  if (!target) return false;
  target.focus();
  document.execCommand('selectAll');
  return document.execCommand('insertText', false, code);
}`

const applyCM5Script = `(code) => {
  const host = document.querySelector('.CodeMirror');
  if (!host || !host.CodeMirror || typeof host.CodeMirror.setValue !== 'function') return false;
  host.CodeMirror.setValue(code);
  return true;
}`

const applyTextareaScript = `(code) => {
  const area = document.querySelector('textarea');
  if (!area) return false;
  area.value = code;
  area.dispatchEvent(new Event('input', { bubbles: true }));
  area.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

// callGlobalScript calls the first global function present with the code.
const callGlobalScript = `([names, code]) => {
  for (const name of names) {
    if (typeof window[name] === 'function') {
      window[name](code);
      return true;
    }
  }
  return false;
}`

// shortcutScript dispatches the evaluation shortcuts to the editor. It
// cannot observe whether anything listened, so it always reports true.
const shortcutScript = `() => {
  const target = document.querySelector('.cm-content') || document.querySelector('.cm-editor') || document.activeElement || document.body;
  const combos = [
    { key: 'Enter', ctrlKey: true },
    { key: 'Enter', shiftKey: true },
    { key: 'Enter', metaKey: true },
    { key: 'r', ctrlKey: true },
  ];
  for (const combo of combos) {
    target.dispatchEvent(new KeyboardEvent('keydown', Object.assign({ bubbles: true, cancelable: true }, combo)));
  }
  return true;
}`

const readCM6Script = `() => {
  const host = document.querySelector('.cm-editor');
  const view = (host && host.cmView && host.cmView.view) || window.cm || window.editor;
  return view && view.state ? view.state.doc.toString() : null;
}`

const readContentScript = `() => {
  const content = document.querySelector('.cm-content');
  return content ? content.textContent : null;
}`

const readCM5Script = `() => {
  const host = document.querySelector('.CodeMirror');
  return host && host.CodeMirror ? host.CodeMirror.getValue() : null;
}`

const readTextareaScript = `() => {
  const area = document.querySelector('textarea');
  return area ? area.value : null;
}`
